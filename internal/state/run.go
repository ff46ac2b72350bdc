package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/store"
	"github.com/tira-io/tirad/internal/supervisor"
)

// maxInputRunDepth bounds the input-run chain followed by ExtendedRun.
const maxInputRunDepth = 8

// Viewer describes who looks at a run.
type Viewer struct {
	// Reviewer sees unredacted output of confidential datasets.
	Reviewer bool
}

// RunStatus derives the lifecycle state of a run:
//   - running: its job is listed in a non-terminal state
//   - finished: it left a runtime measurement or output
//   - failed: its job is listed as terminated, or neither listed nor pending
//   - pending: its job is not listed yet but its descriptor is active
func (c *Collector) RunStatus(key model.RunKey, r model.Run, procs []model.ManagedProcess) string {
	name := supervisor.JobName(key.User, r.SoftwareID, key.RunID)
	var listed *model.ManagedProcess
	for i := range procs {
		if procs[i].Name == name {
			listed = &procs[i]
			break
		}
	}

	switch {
	case listed != nil && listed.Active():
		return model.StatusRunning
	case c.runs.HasOutput(key):
		return model.StatusFinished
	case listed != nil:
		return model.StatusFailed
	}

	active, err := c.procs.ActiveDescriptors(key.User)
	if err != nil {
		c.logger.Warn("descriptor listing failed", "user", key.User, "error", err)
		return model.Unknown
	}
	for _, d := range active {
		if d == name {
			return model.StatusPending
		}
	}
	return model.StatusFailed
}

// ExtendedRun assembles everything known about the run at key. Output of
// confidential datasets is redacted for non-reviewers unless the run's
// review explicitly unblinds it.
func (c *Collector) ExtendedRun(ctx context.Context, key model.RunKey, viewer Viewer) (*model.ExtendedRun, error) {
	procs, err := c.procs.List(ctx)
	if err != nil {
		c.logger.Warn("process listing failed", "error", err)
		procs = nil
	}
	return c.extendedRun(key, viewer, procs, err == nil, 0)
}

func (c *Collector) extendedRun(key model.RunKey, viewer Viewer, procs []model.ManagedProcess, listed bool, depth int) (*model.ExtendedRun, error) {
	r, err := c.runs.ReadRun(key)
	if err != nil {
		return nil, err
	}
	er := &model.ExtendedRun{
		Run:          r,
		Key:          key,
		IsEvaluation: r.IsEvaluation(),
		Status:       model.Unknown,
	}
	if listed {
		er.Status = c.RunStatus(key, r, procs)
	}

	filter := !viewer.Reviewer
	rr, err := c.runs.ReadReview(key)
	switch {
	case err == nil:
		er.Review = &rr
		if rr.Blinded != nil {
			filter = filter && *rr.Blinded
		}
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	dataset, dsErr := c.catalog.Dataset(r.InputDataset)
	redact := filter && (dsErr != nil || dataset.Confidential)

	if err := c.readOutputs(er, key, r, redact); err != nil {
		return nil, err
	}
	if redact {
		er.Runtime = store.Hidden
		er.RuntimeDetails = store.Hidden
		er.Size = store.Hidden
		er.SizeInBytes = store.Hidden
		er.NumLines = store.Hidden
		er.NumFiles = store.Hidden
		er.NumDirectories = store.Hidden
	} else if err := c.readMeasurements(er, key); err != nil {
		return nil, err
	}

	if er.IsEvaluation {
		e, err := c.runs.ReadEvaluation(key, c.catalog.MeasureKeys(r.InputDataset))
		switch {
		case err == nil:
			er.Evaluation = &e
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}
	}

	if r.HasInputRun() && depth < maxInputRunDepth {
		if inKey, err := c.runs.FindRun(key.User, r.InputRun); err == nil {
			in, err := c.extendedRun(inKey, viewer, procs, listed, depth+1)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("input run %s: %w", r.InputRun, err)
			}
			er.InputRun = in
		}
	}

	er.IsDeprecated = dsErr == nil && dataset.Deprecated
	if er.InputRun != nil && er.InputRun.IsDeprecated {
		er.IsDeprecated = true
	}
	if er.IsEvaluation {
		if ev, err := c.catalog.Evaluator(r.SoftwareID); err != nil || ev.Deprecated {
			er.IsDeprecated = true
		}
	}
	return er, nil
}

// readOutputs reads stdout, stderr and the file list with the task's
// redaction budgets.
func (c *Collector) readOutputs(er *model.ExtendedRun, key model.RunKey, r model.Run, redact bool) error {
	var task model.Task
	if redact {
		// An unknown task leaves every budget at zero, hiding all output.
		task, _ = c.catalog.Task(r.TaskID)
	}
	budget := func(plain, eval int) int64 {
		if r.IsEvaluation() {
			return int64(eval)
		}
		return int64(plain)
	}

	for _, o := range []struct {
		name  string
		dst   *string
		limit int64
	}{
		{store.FileStdout, &er.Stdout, budget(task.MaxStdoutCharsOnTestData, task.MaxStdoutCharsOnTestDataEval)},
		{store.FileStderr, &er.Stderr, budget(task.MaxStderrCharsOnTestData, task.MaxStderrCharsOnTestDataEval)},
		{store.FileFileList, &er.FileList, budget(task.MaxFileListCharsOnTestData, task.MaxFileListCharsOnTestDataEval)},
	} {
		text, ok, err := c.runs.ReadOutput(key, o.name, redact, o.limit)
		if err != nil {
			return err
		}
		if ok {
			*o.dst = text
		}
	}
	return nil
}

func (c *Collector) readMeasurements(er *model.ExtendedRun, key model.RunKey) error {
	rt, ok, err := c.runs.ReadRuntime(key)
	if err != nil {
		return err
	}
	if ok {
		er.Runtime = rt.Display
		er.RuntimeDetails = rt.Details
	}

	size, ok, err := c.runs.ReadSize(key)
	if err != nil {
		return err
	}
	if ok {
		er.SizeInBytes = size.Bytes
		er.Size = size.Human
		er.NumLines = size.Lines
		er.NumFiles = size.Files
		er.NumDirectories = size.Directories
	}
	return nil
}

// UserRuns returns the extended views of a user's runs, newest first.
// Runs whose record cannot be found are skipped.
func (c *Collector) UserRuns(ctx context.Context, keys []model.RunKey, viewer Viewer) ([]*model.ExtendedRun, error) {
	procs, err := c.procs.List(ctx)
	listed := err == nil
	if err != nil {
		c.logger.Warn("process listing failed", "error", err)
	}

	out := make([]*model.ExtendedRun, 0, len(keys))
	for _, k := range keys {
		er, err := c.extendedRun(k, viewer, procs, listed, 0)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, er)
	}
	return out, nil
}
