// Package state assembles best-effort status views of supervised jobs,
// virtual machines and runs from the process manager, the host tool and
// the run tree. Nothing here is authoritative; individual probe failures
// degrade fields instead of failing the whole view.
package state

import (
	"log/slog"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/shell"
	"github.com/tira-io/tirad/internal/store"
	"github.com/tira-io/tirad/internal/supervisor"
)

// Processes is the process-manager view the collector needs.
type Processes interface {
	supervisor.Lister
	ActiveDescriptors(user string) ([]string, error)
}

// Runs reads run artifacts.
type Runs interface {
	ReadRun(key model.RunKey) (model.Run, error)
	ReadReview(key model.RunKey) (model.RunReview, error)
	ReadEvaluation(key model.RunKey, measureKeys []string) (model.Evaluation, error)
	ReadOutput(key model.RunKey, name string, redact bool, redactBytes int64) (string, bool, error)
	ReadRuntime(key model.RunKey) (store.Runtime, bool, error)
	ReadSize(key model.RunKey) (store.Size, bool, error)
	HasOutput(key model.RunKey) bool
	FindRun(user, runID string) (model.RunKey, error)
}

// Catalog resolves metadata.
type Catalog interface {
	Task(id string) (model.Task, error)
	Dataset(id string) (model.Dataset, error)
	Software(taskID, user, id string) (model.Software, error)
	Evaluator(id string) (model.Evaluator, error)
	MeasureKeys(datasetID string) []string
}

// Config locates host-side state.
type Config struct {
	// VMStateDir holds the sandbox transition markers.
	VMStateDir string

	// HostUser runs the tira host tool.
	HostUser string
}

// Collector builds status views.
type Collector struct {
	cfg     Config
	exec    shell.Executor
	procs   Processes
	runs    Runs
	catalog Catalog
	logger  *slog.Logger
}

// NewCollector creates a collector.
func NewCollector(cfg Config, ex shell.Executor, procs Processes, runs Runs, cat Catalog, logger *slog.Logger) *Collector {
	return &Collector{
		cfg:     cfg,
		exec:    ex,
		procs:   procs,
		runs:    runs,
		catalog: cat,
		logger:  logger,
	}
}
