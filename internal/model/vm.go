package model

// VMState aggregates everything the status probes could find out about a
// user's virtual machine. Fields a probe could not determine hold Unknown.
type VMState struct {
	Host              string       `json:"host"`
	PortSSH           string       `json:"port_ssh"`
	PortRDP           string       `json:"port_rdp"`
	GuestOS           string       `json:"guest_os"`
	MemorySize        string       `json:"memory_size"`
	NumberOfCPUs      string       `json:"number_of_cpus"`
	State             string       `json:"state"`
	StateRunning      bool         `json:"state_running"`
	PortSSHOpen       bool         `json:"port_ssh_open"`
	PortRDPOpen       bool         `json:"port_rdp_open"`
	StateSandboxed    bool         `json:"state_sandboxed"`
	StateSandboxing   bool         `json:"state_sandboxing"`
	StateUnsandboxing bool         `json:"state_unsandboxing"`
	Process           ProcessState `json:"process"`
	Run               *Run         `json:"run,omitempty"`
	Software          *Software    `json:"software,omitempty"`
	LatestOutput      string       `json:"latest_output,omitempty"`
	HasLatestOutput   bool         `json:"has_latest_output"`
	ProbeErrors       []string     `json:"probe_errors,omitempty"`
}

// VMMetrics is a point-in-time load sample of a running VM.
type VMMetrics struct {
	CPULoad   string `json:"cpu_load"`
	UsedRAMMB int    `json:"used_ram_mb"`
}
