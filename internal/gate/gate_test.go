package gate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tira-io/tirad/internal/gate"
	"github.com/tira-io/tirad/internal/model"
)

// listerFunc adapts a function to supervisor.Lister.
type listerFunc func(ctx context.Context) ([]model.ManagedProcess, error)

func (f listerFunc) List(ctx context.Context) ([]model.ManagedProcess, error) { return f(ctx) }

func staticLister(procs ...model.ManagedProcess) listerFunc {
	return func(context.Context) ([]model.ManagedProcess, error) { return procs, nil }
}

func TestCheckIdleAndBusy(t *testing.T) {
	tests := []struct {
		name     string
		procs    []model.ManagedProcess
		wantIdle bool
	}{
		{name: "no jobs", wantIdle: true},
		{
			name:     "only exited jobs",
			procs:    []model.ManagedProcess{{Name: "alice-software1-2024-01-01-10-00-00", State: "EXITED"}},
			wantIdle: true,
		},
		{
			name:     "other user running",
			procs:    []model.ManagedProcess{{Name: "bob-software1-2024-01-01-10-00-00", State: "RUNNING"}},
			wantIdle: true,
		},
		{
			name:  "backoff counts as busy",
			procs: []model.ManagedProcess{{Name: "alice-software1-2024-01-01-10-00-00", State: "BACKOFF"}},
		},
		{
			name:  "stopping counts as busy",
			procs: []model.ManagedProcess{{Name: "alice-stopVm-2024-01-01-10-00-00", State: "STOPPING"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gate.New(staticLister(tt.procs...), nil)
			idle, err := g.CheckIdle(context.Background(), "alice")
			if err != nil {
				t.Fatalf("CheckIdle: %v", err)
			}
			busy, err := g.CheckBusy(context.Background(), "alice")
			if err != nil {
				t.Fatalf("CheckBusy: %v", err)
			}
			if idle != tt.wantIdle || busy == idle {
				t.Errorf("idle = %v, busy = %v, want idle %v", idle, busy, tt.wantIdle)
			}
		})
	}
}

func TestListFailureIsFatal(t *testing.T) {
	boom := errors.New("socket gone")
	g := gate.New(listerFunc(func(context.Context) ([]model.ManagedProcess, error) { return nil, boom }), nil)

	if _, err := g.CheckIdle(context.Background(), "alice"); !errors.Is(err, boom) {
		t.Errorf("CheckIdle err = %v", err)
	}
	if _, err := g.CheckBusy(context.Background(), "alice"); !errors.Is(err, boom) {
		t.Errorf("CheckBusy err = %v", err)
	}
	if err := g.RequireIdle(context.Background(), "alice"); errors.Is(err, model.ErrConflict) {
		t.Errorf("list failure reported as conflict: %v", err)
	}
}

func TestRequireConflicts(t *testing.T) {
	running := model.ManagedProcess{Name: "alice-software1-2024-01-01-10-00-00", State: "RUNNING"}
	busy := gate.New(staticLister(running), nil)
	idle := gate.New(staticLister(), nil)

	if err := busy.RequireIdle(context.Background(), "alice"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("RequireIdle on busy user: %v", err)
	}
	if err := idle.RequireBusy(context.Background(), "alice"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("RequireBusy on idle user: %v", err)
	}
	if err := idle.RequireIdle(context.Background(), "alice"); err != nil {
		t.Errorf("RequireIdle on idle user: %v", err)
	}
}

func TestExclusiveSerialises(t *testing.T) {
	g := gate.New(staticLister(), &sync.Mutex{})

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Exclusive(func() error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Errorf("max concurrent = %d, want 1", maxInside.Load())
	}
}

func TestExclusiveReleasesOnError(t *testing.T) {
	mu := &sync.Mutex{}
	g := gate.New(staticLister(), mu)
	want := errors.New("fail")
	if err := g.Exclusive(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
	if !mu.TryLock() {
		t.Fatal("lock still held after error")
	}
	mu.Unlock()
}
