// Package gate derives idle/busy predicates from the process manager and
// serialises submissions through one injected lock.
package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/supervisor"
)

// Gate answers whether a user has a non-terminal supervised job and owns the
// submission critical section.
type Gate struct {
	lister supervisor.Lister
	mu     sync.Locker
}

// New creates a gate. All callers that must not interleave between an idle
// check and a job start have to share the same lock.
func New(lister supervisor.Lister, mu sync.Locker) *Gate {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Gate{lister: lister, mu: mu}
}

// CheckIdle reports whether none of the user's jobs is starting, running,
// backing off or stopping. A failed listing is an error, never "busy".
func (g *Gate) CheckIdle(ctx context.Context, user string) (bool, error) {
	active, err := g.activeJobs(ctx, user)
	if err != nil {
		return false, err
	}
	return len(active) == 0, nil
}

// CheckBusy is the complement of CheckIdle.
func (g *Gate) CheckBusy(ctx context.Context, user string) (bool, error) {
	active, err := g.activeJobs(ctx, user)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

// RequireIdle returns model.ErrConflict when the user is busy.
func (g *Gate) RequireIdle(ctx context.Context, user string) error {
	idle, err := g.CheckIdle(ctx, user)
	if err != nil {
		return err
	}
	if !idle {
		return fmt.Errorf("user %s already has an active job: %w", user, model.ErrConflict)
	}
	return nil
}

// RequireBusy returns model.ErrConflict when the user is idle.
func (g *Gate) RequireBusy(ctx context.Context, user string) error {
	busy, err := g.CheckBusy(ctx, user)
	if err != nil {
		return err
	}
	if !busy {
		return fmt.Errorf("user %s has no active job: %w", user, model.ErrConflict)
	}
	return nil
}

// ActiveJobs returns the user's jobs in a non-terminal state.
func (g *Gate) ActiveJobs(ctx context.Context, user string) ([]model.ManagedProcess, error) {
	return g.activeJobs(ctx, user)
}

// Exclusive runs fn inside the submission critical section. The lock is
// released on every return path, panics included.
func (g *Gate) Exclusive(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

func (g *Gate) activeJobs(ctx context.Context, user string) ([]model.ManagedProcess, error) {
	procs, err := g.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query jobs of %s: %w", user, err)
	}
	return supervisor.Active(supervisor.ForUser(procs, user)), nil
}
