package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tira-io/tirad/internal/model"
)

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string

	// FailOnExit turns a nonzero exit status into a *ToolError. Exploratory
	// probes that expect nonzero exits (grep without a match, port scans)
	// leave it unset and inspect the Result instead.
	FailOnExit bool
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the drained output streams and exit status of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs external commands.
type Executor interface {
	Exec(ctx context.Context, c Command) (Result, error)
}

// ToolError reports a failed external command. It matches model.ErrExternalTool.
type ToolError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q exited with %d: stdout=%q stderr=%q",
		e.Command, e.ExitCode, e.Stdout, e.Stderr)
}

// Is makes errors.Is(err, model.ErrExternalTool) hold for every ToolError.
func (e *ToolError) Is(target error) bool {
	return target == model.ErrExternalTool
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Compile-time interface satisfaction check.
var _ Executor = (*OSExecutor)(nil)

// OSExecutor runs commands as child processes of the current process.
type OSExecutor struct {
	logger *slog.Logger
}

// NewOSExecutor creates an executor that logs every invocation at debug level.
func NewOSExecutor(logger *slog.Logger) *OSExecutor {
	return &OSExecutor{logger: logger}
}

// Exec starts the command, drains both output streams in two goroutines,
// then waits for the process to exit. There is no timeout beyond ctx.
func (e *OSExecutor) Exec(ctx context.Context, c Command) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &ToolError{Command: c.String(), Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &ToolError{Command: c.String(), Err: err}
	}

	if err := cmd.Start(); err != nil {
		return Result{}, &ToolError{Command: c.String(), Err: err}
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})

	// Pipes must be fully read before Wait closes them.
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	res := Result{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	e.logger.Debug("command executed",
		"command", c.String(),
		"exit_code", res.ExitCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if drainErr != nil {
		return res, &ToolError{Command: c.String(), ExitCode: res.ExitCode, Err: fmt.Errorf("drain output: %w", drainErr)}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, &ToolError{Command: c.String(), ExitCode: res.ExitCode, Err: waitErr}
	}
	if c.FailOnExit && res.ExitCode != 0 {
		return res, &ToolError{
			Command:  c.String(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

// Bash wraps a shell pipeline into a "bash -c" command.
func Bash(script string, failOnExit bool) Command {
	return Command{Name: "bash", Args: []string{"-c", script}, FailOnExit: failOnExit}
}

// HostTool builds an invocation of the "tira" host tool as hostUser.
func HostTool(hostUser string, args ...string) Command {
	return Command{
		Name:       "sudo",
		Args:       append([]string{"-u", hostUser, "-H", "tira"}, args...),
		FailOnExit: true,
	}
}

// RefreshDir lists dir so that a shared filesystem revalidates its cached
// attributes before the directory is read or written.
func RefreshDir(ctx context.Context, ex Executor, dir string) error {
	if _, err := ex.Exec(ctx, Command{Name: "ls", Args: []string{"-la", dir}, FailOnExit: true}); err != nil {
		return fmt.Errorf("refresh %s: %w", dir, err)
	}
	return nil
}
