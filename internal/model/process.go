package model

// Process-manager states that count as a non-terminal job.
const (
	ProcStarting = "STARTING"
	ProcRunning  = "RUNNING"
	ProcBackoff  = "BACKOFF"
	ProcStopping = "STOPPING"
)

// Unknown and None are the sentinel values of degraded or absent fields.
const (
	Unknown = "unknown"
	None    = "none"
)

// Job types of the supervised VM lifecycle commands.
const (
	JobStartVM    = "startVm"
	JobStopVM     = "stopVm"
	JobShutdownVM = "shutdownVm"
)

var activeStates = map[string]bool{
	ProcStarting: true,
	ProcRunning:  true,
	ProcBackoff:  true,
	ProcStopping: true,
}

// IsActiveState reports whether a process-manager state is non-terminal.
func IsActiveState(state string) bool {
	return activeStates[state]
}

// ManagedProcess is one entry of the process manager's status listing.
type ManagedProcess struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Uptime string `json:"uptime"`
}

// Active reports whether the process is in a non-terminal state.
func (p ManagedProcess) Active() bool {
	return IsActiveState(p.State)
}

// ProcessState is the derived view of a user's current supervised job.
type ProcessState struct {
	Running        bool   `json:"running"`
	Type           string `json:"type"`
	RunID          string `json:"run_id"`
	State          string `json:"state"`
	Time           string `json:"time"`
	VMBooting      bool   `json:"vm_booting"`
	VMPoweringOff  bool   `json:"vm_powering_off"`
	VMShuttingDown bool   `json:"vm_shutting_down"`
}

// NoProcess is the state reported when a user has no active job.
func NoProcess() ProcessState {
	return ProcessState{
		Type:  None,
		RunID: None,
		State: None,
		Time:  None,
	}
}

// IsVMJob reports whether the job type is a VM lifecycle command.
func IsVMJob(jobType string) bool {
	return jobType == JobStartVM || jobType == JobStopVM || jobType == JobShutdownVM
}
