// Package journal keeps an append-only SQLite ledger of submissions and
// kills. It is informational only; the run tree stays the system of record.
package journal

import (
	"context"
	"time"
)

// Entry kinds.
const (
	KindSoftware   = "software"
	KindEvaluator  = "evaluator"
	KindKill       = "kill"
	KindStartVM    = "vm-start"
	KindStopVM     = "vm-stop"
	KindShutdownVM = "vm-shutdown"
)

// Entry outcomes.
const (
	OutcomeStarted  = "started"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Entry is one submission or kill attempt.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	User      string    `json:"user"`
	TaskID    string    `json:"task_id,omitempty"`
	Dataset   string    `json:"dataset,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Job       string    `json:"job,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates the journal.
type Stats struct {
	Total          int            `json:"total"`
	CountByKind    map[string]int `json:"count_by_kind"`
	CountByOutcome map[string]int `json:"count_by_outcome"`
}

// Journal records and lists entries.
type Journal interface {
	Record(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, user string, limit, offset int) ([]*Entry, int, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
