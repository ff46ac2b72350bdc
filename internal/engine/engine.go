package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/tira-io/tirad/internal/gate"
	"github.com/tira-io/tirad/internal/journal"
	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/shell"
	"github.com/tira-io/tirad/internal/store"
	"github.com/tira-io/tirad/internal/supervisor"
)

// Runs creates and locates run directories.
type Runs interface {
	Dir(key model.RunKey) string
	CreateRun(taskID, softwareID, runID, inputRun string, dataset model.Dataset) model.Run
	RunHandle(ctx context.Context, key model.RunKey, create bool) (*store.RunHandle, error)
	FindRun(user, runID string) (model.RunKey, error)
}

// Submissions writes the files the host tool reads to execute a job.
type Submissions interface {
	Write(vmUser, runID string, sub store.Submission) (string, error)
}

// Catalog resolves metadata.
type Catalog interface {
	Task(id string) (model.Task, error)
	Dataset(id string) (model.Dataset, error)
	Software(taskID, user, id string) (model.Software, error)
	Evaluator(id string) (model.Evaluator, error)
	UserVM(user string) (model.VirtualMachine, error)
	TaskVM(taskID string) (model.VirtualMachine, error)
}

// Config holds engine settings.
type Config struct {
	// HostUser runs the tira host tool.
	HostUser string

	// Now stamps new run ids. Defaults to time.Now.
	Now func() time.Time
}

// Engine orchestrates synchronous job submission. Every state-changing
// operation runs inside the gate's critical section.
type Engine struct {
	cfg         Config
	gate        *gate.Gate
	manager     supervisor.Manager
	exec        shell.Executor
	runs        Runs
	submissions Submissions
	catalog     Catalog
	journal     journal.Journal
	broker      *EventBroker
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates a new engine. The gate must be built on the same
// process manager as manager.
func NewEngine(cfg Config, g *gate.Gate, m supervisor.Manager, ex shell.Executor, runs Runs,
	subs Submissions, cat Catalog, j journal.Journal, logger *slog.Logger) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:         cfg,
		gate:        g,
		manager:     m,
		exec:        ex,
		runs:        runs,
		submissions: subs,
		catalog:     cat,
		journal:     j,
		broker:      NewEventBroker(),
		logger:      logger,
		now:         now,
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// SoftwareRun requests the execution of a participant software.
type SoftwareRun struct {
	User       string
	TaskID     string
	SoftwareID string
	DatasetID  string

	// InputRun is the id of a run of the same user whose output the
	// software consumes. Empty or "none" for none.
	InputRun string
}

// EvaluatorRun requests the evaluation of a run.
type EvaluatorRun struct {
	User   string
	TaskID string

	// RunID is the run to evaluate. Its dataset follows from its location.
	RunID string
}

// Submitted identifies a started job.
type Submitted struct {
	Key       model.RunKey `json:"key"`
	Job       string       `json:"job"`
	JournalID string       `json:"journal_id"`
}

// SubmitSoftwareRun creates a run of the user's software on a dataset and
// starts it. It fails with model.ErrConflict while the user has an active
// job or when a run with the same id already exists. A run record written
// before a failed start is left in place.
func (e *Engine) SubmitSoftwareRun(ctx context.Context, req SoftwareRun) (*Submitted, error) {
	entry := &journal.Entry{
		Kind:    journal.KindSoftware,
		User:    req.User,
		TaskID:  req.TaskID,
		Dataset: req.DatasetID,
	}

	var out *Submitted
	err := e.gate.Exclusive(func() error {
		sw, err := e.catalog.Software(req.TaskID, req.User, req.SoftwareID)
		if err != nil {
			return err
		}
		if sw.Deleted {
			return fmt.Errorf("software %s of %s was deleted: %w", sw.ID, req.User, model.ErrNotFound)
		}
		dataset, err := e.catalog.Dataset(req.DatasetID)
		if err != nil {
			return err
		}
		vm, err := e.catalog.UserVM(req.User)
		if err != nil {
			return err
		}
		inputRunPath := model.NoInputRun
		if req.InputRun != "" && req.InputRun != model.NoInputRun {
			key, err := e.runs.FindRun(req.User, req.InputRun)
			if err != nil {
				return fmt.Errorf("input run: %w", err)
			}
			inputRunPath = e.runs.Dir(key)
		}

		if err := e.gate.RequireIdle(ctx, req.User); err != nil {
			return err
		}

		runID := model.NewRunID(e.now())
		entry.RunID = runID
		key := model.RunKey{Dataset: dataset.ID, User: req.User, RunID: runID}

		h, err := e.runs.RunHandle(ctx, key, true)
		if err != nil {
			return err
		}
		if err := h.SaveRun(ctx, e.runs.CreateRun(req.TaskID, sw.ID, runID, req.InputRun, dataset)); err != nil {
			return err
		}

		subFile, err := e.submissions.Write(vm.User, runID, store.NewSubmission(vm, sw.WorkingDirectory, sw.Command))
		if err != nil {
			return err
		}

		cmd := shell.HostTool(e.cfg.HostUser, "run-execute", "-r", vm.Host,
			filepath.Base(subFile), dataset.ID, inputRunPath, runID, "true", "-T", req.TaskID)
		job, err := e.manager.Submit(ctx, supervisor.Job{
			User:    req.User,
			Type:    sw.ID,
			Command: cmd.String(),
			RunID:   runID,
		})
		if err != nil {
			return err
		}
		entry.Job = job
		out = &Submitted{Key: key, Job: job}
		return nil
	})

	e.finish(ctx, entry, err)
	if err != nil {
		return nil, fmt.Errorf("submit software %s of %s: %w", req.SoftwareID, req.User, err)
	}
	out.JournalID = entry.ID
	return out, nil
}

// SubmitEvaluatorRun evaluates one of the user's runs with the evaluator of
// the run's dataset on the task's master VM. The evaluation run is stored
// next to the evaluated run under a fresh id.
func (e *Engine) SubmitEvaluatorRun(ctx context.Context, req EvaluatorRun) (*Submitted, error) {
	entry := &journal.Entry{
		Kind:   journal.KindEvaluator,
		User:   req.User,
		TaskID: req.TaskID,
	}

	var out *Submitted
	err := e.gate.Exclusive(func() error {
		inputKey, err := e.runs.FindRun(req.User, req.RunID)
		if err != nil {
			return err
		}
		entry.Dataset = inputKey.Dataset

		dataset, err := e.catalog.Dataset(inputKey.Dataset)
		if err != nil {
			return err
		}
		if dataset.EvaluatorID == "" {
			return fmt.Errorf("dataset %s has no evaluator: %w", dataset.ID, model.ErrNotFound)
		}
		ev, err := e.catalog.Evaluator(dataset.EvaluatorID)
		if err != nil {
			return err
		}
		vm, err := e.catalog.UserVM(req.User)
		if err != nil {
			return err
		}
		taskVM, err := e.catalog.TaskVM(req.TaskID)
		if err != nil {
			return err
		}

		if err := e.gate.RequireIdle(ctx, req.User); err != nil {
			return err
		}

		runID := model.NewRunID(e.now())
		entry.RunID = runID
		key := model.RunKey{Dataset: dataset.ID, User: req.User, RunID: runID}

		h, err := e.runs.RunHandle(ctx, key, true)
		if err != nil {
			return err
		}
		if err := h.SaveRun(ctx, e.runs.CreateRun(req.TaskID, ev.ID, runID, req.RunID, dataset)); err != nil {
			return err
		}

		subFile, err := e.submissions.Write(vm.User, runID, store.NewSubmission(taskVM, ev.WorkingDirectory, ev.Command))
		if err != nil {
			return err
		}

		cmd := shell.HostTool(e.cfg.HostUser, "run-eval", "-r", taskVM.Host,
			filepath.Base(subFile), dataset.ID, e.runs.Dir(inputKey), runID, "-T", req.TaskID)
		job, err := e.manager.Submit(ctx, supervisor.Job{
			User:    req.User,
			Type:    ev.ID,
			Command: cmd.String(),
			RunID:   runID,
		})
		if err != nil {
			return err
		}
		entry.Job = job
		out = &Submitted{Key: key, Job: job}
		return nil
	})

	e.finish(ctx, entry, err)
	if err != nil {
		return nil, fmt.Errorf("submit evaluation of %s by %s: %w", req.RunID, req.User, err)
	}
	out.JournalID = entry.ID
	return out, nil
}

// Kill hard-stops all of the user's active jobs. It fails with
// model.ErrConflict before anything is stopped when the user is idle.
// Participant software runs first get their partial output copied back
// from the VM; a failed copy is logged and does not prevent the stop.
// With unsandbox set the user's VM is taken out of the sandbox afterwards.
func (e *Engine) Kill(ctx context.Context, user string, unsandbox bool) ([]string, error) {
	entry := &journal.Entry{Kind: journal.KindKill, User: user}

	var stopped []string
	err := e.gate.Exclusive(func() error {
		if err := e.gate.RequireBusy(ctx, user); err != nil {
			return err
		}
		vm, err := e.catalog.UserVM(user)
		if err != nil {
			return err
		}
		active, err := e.gate.ActiveJobs(ctx, user)
		if err != nil {
			return err
		}

		for _, p := range active {
			jobType, runID := supervisor.ParseJobName(p.Name)
			if strings.HasPrefix(jobType, model.PrefixSoftware) {
				e.copyBack(ctx, user, runID, vm)
			}

			if err := e.manager.Stop(ctx, p.Name); err != nil {
				return err
			}
			stopped = append(stopped, p.Name)
			entry.Job = p.Name
			entry.RunID = runID

			if unsandbox {
				cmd := shell.HostTool(e.cfg.HostUser, "vm-unsandbox", "-r", vm.Host, vm.VMName)
				if _, err := e.exec.Exec(ctx, cmd); err != nil {
					return fmt.Errorf("unsandbox %s: %w", vm.VMName, err)
				}
			}
		}
		return nil
	})

	e.finish(ctx, entry, err)
	if err != nil {
		return stopped, fmt.Errorf("kill jobs of %s: %w", user, err)
	}
	return stopped, nil
}

func (e *Engine) copyBack(ctx context.Context, user, runID string, vm model.VirtualMachine) {
	key, err := e.runs.FindRun(user, runID)
	if err != nil {
		e.logger.Warn("skipping output copy of killed run", "user", user, "run_id", runID, "error", err)
		return
	}
	cmd := shell.HostTool(e.cfg.HostUser, "run-copy-to-local", "-r", vm.Host, runID, key.Dataset,
		vm.User, vm.Password, vm.Host, vm.PortSSH, vm.OS())
	if _, err := e.exec.Exec(ctx, cmd); err != nil {
		e.logger.Warn("output copy of killed run failed", "user", user, "run_id", runID, "error", err)
	}
}

// StartVM powers on the user's VM as a supervised job.
func (e *Engine) StartVM(ctx context.Context, user string) (string, error) {
	return e.submitVMJob(ctx, user, journal.KindStartVM, model.JobStartVM, func(vm model.VirtualMachine) shell.Command {
		return shell.HostTool(e.cfg.HostUser, "vm-start", "-r", vm.Host, vm.VMName)
	})
}

// StopVM powers off the user's VM as a supervised job.
func (e *Engine) StopVM(ctx context.Context, user string) (string, error) {
	return e.submitVMJob(ctx, user, journal.KindStopVM, model.JobStopVM, func(vm model.VirtualMachine) shell.Command {
		return shell.HostTool(e.cfg.HostUser, "vm-stop", "-r", vm.Host, vm.VMName)
	})
}

// ShutdownVM shuts the user's VM down from inside the guest as a
// supervised job.
func (e *Engine) ShutdownVM(ctx context.Context, user string) (string, error) {
	return e.submitVMJob(ctx, user, journal.KindShutdownVM, model.JobShutdownVM, func(vm model.VirtualMachine) shell.Command {
		return shell.HostTool(e.cfg.HostUser, "vm-shutdown", "-r", vm.Host, vm.User)
	})
}

func (e *Engine) submitVMJob(ctx context.Context, user, kind, jobType string, build func(model.VirtualMachine) shell.Command) (string, error) {
	entry := &journal.Entry{Kind: kind, User: user}

	var job string
	err := e.gate.Exclusive(func() error {
		vm, err := e.catalog.UserVM(user)
		if err != nil {
			return err
		}
		if err := e.gate.RequireIdle(ctx, user); err != nil {
			return err
		}
		name, err := e.manager.Submit(ctx, supervisor.Job{
			User:    user,
			Type:    jobType,
			Command: build(vm).String(),
		})
		if err != nil {
			return err
		}
		job = name
		entry.Job = name
		return nil
	})

	e.finish(ctx, entry, err)
	if err != nil {
		return "", fmt.Errorf("%s for %s: %w", kind, user, err)
	}
	return job, nil
}

// finish journals, counts and publishes the outcome of an attempt. Journal
// failures are logged and never change the attempt's result.
func (e *Engine) finish(ctx context.Context, entry *journal.Entry, err error) {
	switch {
	case err == nil:
		entry.Outcome = journal.OutcomeStarted
	case errors.Is(err, model.ErrConflict):
		entry.Outcome = journal.OutcomeRejected
	default:
		entry.Outcome = journal.OutcomeFailed
	}
	if err != nil {
		entry.Error = err.Error()
	}

	observe(entry.Kind, entry.Outcome)

	if jerr := e.journal.Record(ctx, entry); jerr != nil {
		e.logger.Error("failed to journal attempt", "kind", entry.Kind, "user", entry.User, "error", jerr)
	}

	attrs := []any{"kind", entry.Kind, "user", entry.User, "outcome", entry.Outcome}
	if entry.RunID != "" {
		attrs = append(attrs, "run_id", entry.RunID)
	}
	if entry.Job != "" {
		attrs = append(attrs, "job", entry.Job)
	}
	if err != nil {
		e.logger.Warn("request not started", append(attrs, "error", err)...)
	} else {
		e.logger.Info("request started", attrs...)
	}

	e.broker.Publish(Event{
		Kind:    entry.Kind,
		User:    entry.User,
		TaskID:  entry.TaskID,
		Dataset: entry.Dataset,
		RunID:   entry.RunID,
		Job:     entry.Job,
		Outcome: entry.Outcome,
		Error:   entry.Error,
		Time:    entry.CreatedAt,
	})
}
