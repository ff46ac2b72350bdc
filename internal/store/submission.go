package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tira-io/tirad/internal/model"
)

// Submission is the key="value" file the host tool reads to know where and
// how to execute a software or evaluator.
type Submission struct {
	// VMUser is the account on the VM the command runs as.
	VMUser     string
	OS         string
	Host       string
	SSHPort    string
	Password   string
	WorkingDir string
	Command    string
}

// NewSubmission fills a submission for running command on vm.
func NewSubmission(vm model.VirtualMachine, workingDir, command string) Submission {
	return Submission{
		VMUser:     vm.User,
		OS:         vm.OS(),
		Host:       vm.Host,
		SSHPort:    vm.PortSSH,
		Password:   vm.Password,
		WorkingDir: workingDir,
		Command:    command,
	}
}

// SubmissionFiles writes submission files below the softwares state
// directory, one subdirectory per user.
type SubmissionFiles struct {
	dir string
}

// NewSubmissionFiles creates a writer rooted at dir.
func NewSubmissionFiles(dir string) *SubmissionFiles {
	return &SubmissionFiles{dir: dir}
}

// Write stores sub as "{vmUser}/{vmUser}-submission-{runID}.txt" and
// returns its path. vmUser is the account of the participant's VM, also for
// evaluations that run on the task VM.
func (f *SubmissionFiles) Write(vmUser, runID string, sub Submission) (string, error) {
	if !model.ValidSegment(vmUser) || !model.ValidSegment(runID) {
		return "", fmt.Errorf("submission %q of %q: %w", runID, vmUser, model.ErrInvalid)
	}
	dir := filepath.Join(f.dir, vmUser)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	var b strings.Builder
	for _, kv := range [][2]string{
		{"user", sub.VMUser},
		{"os", sub.OS},
		{"host", sub.Host},
		{"sshport", sub.SSHPort},
		{"userpw", sub.Password},
		{"workingDir", sub.WorkingDir},
		{"cmd", sub.Command},
	} {
		fmt.Fprintf(&b, "%s=\"%s\"\n", kv[0], kv[1])
	}

	path := filepath.Join(dir, vmUser+"-submission-"+runID+".txt")
	if err := os.WriteFile(path, []byte(b.String()), filePerm); err != nil {
		return "", fmt.Errorf("write submission %s: %w", path, err)
	}
	return path, nil
}
