package supervisor

import (
	"context"

	"github.com/tira-io/tirad/internal/model"
)

// Lister reports the process manager's current view of all jobs.
type Lister interface {
	List(ctx context.Context) ([]model.ManagedProcess, error)
}

// Manager is the full capability set of a process manager.
type Manager interface {
	Lister

	// Submit registers a job from a fresh descriptor and starts it. It
	// returns the job name once the daemon confirmed the start.
	Submit(ctx context.Context, job Job) (string, error)

	// Stop hard-kills the named job.
	Stop(ctx context.Context, name string) error

	// ActiveDescriptors returns the names of the user's jobs whose
	// descriptors have not yet been archived.
	ActiveDescriptors(user string) ([]string, error)
}

// Job describes a supervised one-shot execution.
type Job struct {
	User    string
	Type    string
	Command string

	// RunID becomes the name suffix. When empty the submission time is used.
	RunID string
}

// ForUser keeps the processes owned by user, preserving listing order.
func ForUser(procs []model.ManagedProcess, user string) []model.ManagedProcess {
	var out []model.ManagedProcess
	for _, p := range procs {
		if OwnedBy(p.Name, user) {
			out = append(out, p)
		}
	}
	return out
}

// Active keeps the processes in a non-terminal state.
func Active(procs []model.ManagedProcess) []model.ManagedProcess {
	var out []model.ManagedProcess
	for _, p := range procs {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}
