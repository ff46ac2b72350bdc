package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/shell"
)

const (
	dirPerm        = 0o775
	descriptorPerm = 0o644

	stdoutLogSuffix = "-stdout.log"
	stderrLogSuffix = "-stderr.log"

	supervisorctlBin = "supervisorctl"

	// supervisorctl status exits with 3 when some process is not running.
	exitSomeNotRunning = 3
)

// Config locates the daemon's include directory and the job logs.
type Config struct {
	// ConfDir holds one subdirectory of active descriptors per user.
	ConfDir string

	// LogDir holds one subdirectory per user with job logs and archived
	// descriptors.
	LogDir string

	// RunAs is the OS user the daemon runs the jobs as.
	RunAs string
}

// Compile-time interface satisfaction check.
var _ Manager = (*Supervisorctl)(nil)

// Supervisorctl drives supervisord through the supervisorctl command.
type Supervisorctl struct {
	cfg    Config
	exec   shell.Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewSupervisorctl creates a process manager backed by supervisorctl.
func NewSupervisorctl(cfg Config, ex shell.Executor, logger *slog.Logger) *Supervisorctl {
	return &Supervisorctl{
		cfg:    cfg,
		exec:   ex,
		logger: logger,
		now:    time.Now,
	}
}

// List runs "supervisorctl status" and parses its listing. Anything on
// stderr is a failure, not an empty listing.
func (s *Supervisorctl) List(ctx context.Context) ([]model.ManagedProcess, error) {
	c := shell.Command{Name: supervisorctlBin, Args: []string{"status"}}
	res, err := s.exec.Exec(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	if strings.TrimSpace(res.Stderr) != "" || (res.ExitCode != 0 && res.ExitCode != exitSomeNotRunning) {
		return nil, fmt.Errorf("list processes: %w", &shell.ToolError{
			Command:  c.String(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		})
	}
	return ParseStatus(res.Stdout), nil
}

// Submit archives the user's previous descriptors, writes a new one and
// asks the daemon to load and start it. Any error means the job must be
// assumed not started.
func (s *Supervisorctl) Submit(ctx context.Context, job Job) (string, error) {
	userConfDir := filepath.Join(s.cfg.ConfDir, job.User)
	userLogDir := filepath.Join(s.cfg.LogDir, job.User)
	for _, dir := range []string{userConfDir, userLogDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := s.archiveDescriptors(userConfDir, userLogDir); err != nil {
		return "", err
	}

	suffix := job.RunID
	if suffix == "" {
		suffix = model.NewRunID(s.now())
	}
	name := JobName(job.User, job.Type, suffix)

	descriptor := renderDescriptor(name, job.Command, s.cfg.RunAs,
		filepath.Join(userLogDir, name+stdoutLogSuffix),
		filepath.Join(userLogDir, name+stderrLogSuffix))
	path := filepath.Join(userConfDir, name+confSuffix)
	if err := os.WriteFile(path, []byte(descriptor), descriptorPerm); err != nil {
		return "", fmt.Errorf("write descriptor %s: %w", path, err)
	}

	if err := shell.RefreshDir(ctx, s.exec, s.cfg.ConfDir); err != nil {
		return "", err
	}
	if _, err := s.exec.Exec(ctx, shell.Command{Name: supervisorctlBin, Args: []string{"update"}, FailOnExit: true}); err != nil {
		return "", fmt.Errorf("reload supervisor: %w", err)
	}
	start := shell.Command{Name: supervisorctlBin, Args: []string{"start", name}, FailOnExit: true}
	res, err := s.exec.Exec(ctx, start)
	if err != nil {
		return "", fmt.Errorf("start %s: %w", name, err)
	}
	// Older supervisorctl versions report start errors with exit status 0.
	if strings.Contains(res.Stdout, "ERROR") {
		return "", fmt.Errorf("start %s: %w", name, &shell.ToolError{
			Command: start.String(),
			Stdout:  res.Stdout,
			Stderr:  res.Stderr,
		})
	}

	s.logger.Info("job started", "job", name, "user", job.User, "type", job.Type)
	return name, nil
}

// Stop hard-kills the named job.
func (s *Supervisorctl) Stop(ctx context.Context, name string) error {
	if _, err := s.exec.Exec(ctx, shell.Command{Name: supervisorctlBin, Args: []string{"stop", name}, FailOnExit: true}); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	s.logger.Info("job stopped", "job", name)
	return nil
}

// ActiveDescriptors lists the job names in the user's include directory.
func (s *Supervisorctl) ActiveDescriptors(user string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.cfg.ConfDir, user))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptors of %s: %w", user, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), confSuffix) {
			names = append(names, strings.TrimSuffix(e.Name(), confSuffix))
		}
	}
	return names, nil
}

// archiveDescriptors moves every descriptor out of the include directory
// into the log directory. A name collision gets a unique suffix instead of
// overwriting the earlier archive.
func (s *Supervisorctl) archiveDescriptors(confDir, logDir string) error {
	entries, err := os.ReadDir(confDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", confDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), confSuffix) {
			continue
		}
		src := filepath.Join(confDir, e.Name())
		dst := filepath.Join(logDir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			dst = filepath.Join(logDir, e.Name()+"."+model.NewID())
			s.logger.Warn("archived descriptor name taken", "descriptor", e.Name(), "archived_as", filepath.Base(dst))
		}
		if err := moveFile(src, dst); err != nil {
			return fmt.Errorf("archive %s: %w", src, err)
		}
	}
	return nil
}

func renderDescriptor(name, command, runAs, stdoutLog, stderrLog string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[program:%s]\n", name)
	fmt.Fprintf(&b, "command=%s\n", command)
	fmt.Fprintf(&b, "user=%s\n", runAs)
	b.WriteString("autostart=false\n")
	b.WriteString("autorestart=false\n")
	b.WriteString("startretries=0\n")
	b.WriteString("stopsignal=KILL\n")
	fmt.Fprintf(&b, "stdout_logfile=%s\n", stdoutLog)
	fmt.Fprintf(&b, "stderr_logfile=%s\n", stderrLog)
	return b.String()
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, descriptorPerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
