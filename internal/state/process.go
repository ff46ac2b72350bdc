package state

import (
	"context"
	"sort"
	"strings"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/supervisor"
)

// ProcessStateFor derives the user's current job from a status listing.
// The first of the user's jobs in a non-terminal state wins; names with
// too few fields degrade type and run id to model.Unknown. VM lifecycle
// jobs set the matching VM flag instead of Running. Without such a job the
// result is model.NoProcess.
func ProcessStateFor(procs []model.ManagedProcess, user string) model.ProcessState {
	for _, p := range procs {
		if !supervisor.OwnedBy(p.Name, user) || !p.Active() {
			continue
		}
		jobType, runID := supervisor.ParseJobName(p.Name)
		return model.ProcessState{
			Running:        !model.IsVMJob(jobType),
			Type:           jobType,
			RunID:          runID,
			State:          strings.ToLower(p.State),
			Time:           p.Uptime,
			VMBooting:      jobType == model.JobStartVM,
			VMPoweringOff:  jobType == model.JobStopVM,
			VMShuttingDown: jobType == model.JobShutdownVM,
		}
	}
	return model.NoProcess()
}

// CollectSupervisorState queries the process manager and derives the
// user's current job. A failed listing is returned as an error; an absent
// job is not.
func (c *Collector) CollectSupervisorState(ctx context.Context, user string) (model.ProcessState, error) {
	procs, err := c.procs.List(ctx)
	if err != nil {
		return model.NoProcess(), err
	}
	return ProcessStateFor(procs, user), nil
}

// UserProcesses groups a user's active jobs.
type UserProcesses struct {
	User      string                 `json:"user"`
	Processes []model.ManagedProcess `json:"processes"`
}

// RunningProcesses returns all active jobs grouped by owner, sorted by
// user name. Jobs whose name does not reveal an owner are skipped.
func (c *Collector) RunningProcesses(ctx context.Context) ([]UserProcesses, error) {
	procs, err := c.procs.List(ctx)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]model.ManagedProcess)
	for _, p := range supervisor.Active(procs) {
		user, ok := supervisor.JobOwner(p.Name)
		if !ok {
			continue
		}
		byUser[user] = append(byUser[user], p)
	}

	out := make([]UserProcesses, 0, len(byUser))
	for user, ps := range byUser {
		out = append(out, UserProcesses{User: user, Processes: ps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}
