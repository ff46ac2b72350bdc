package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/shell"
)

const (
	vmInfoGuestOS     = "Guest OS:"
	vmInfoMemorySize  = "Memory size:"
	vmInfoMemoryBare  = "Memory size"
	vmInfoNumberOfCPU = "Number of CPUs:"
	vmInfoState       = "State:"
	vmInfoSep         = ": "
	vmStateRunning    = "running"

	latestOutputBegin = "Latest output begin:"
	connectionTo      = "Connection to"
	connectionClosed  = "closed."
	noSuchFile        = "No such file or directory"

	vmNotRunning = "VM is not running!"

	markerSandboxed    = ".sandboxed"
	markerSandboxing   = ".sandboxing"
	markerUnsandboxing = ".unsandboxing"
)

var (
	// "running (since 2024-01-01T10:00:00.123000000)" becomes
	// "running (since 2024-01-01 10:00:00)".
	vmStateDateTime = regexp.MustCompile(`(\d\d)T(\d\d?)`)
	vmStateFraction = regexp.MustCompile(`\.\d+\)`)
)

// VMInfo is the parsed output of "tira vm-info".
type VMInfo struct {
	GuestOS      string
	MemorySize   string
	NumberOfCPUs string
	State        string
}

// Running reports whether the VM's power state is running.
func (i VMInfo) Running() bool {
	return strings.HasPrefix(i.State, vmStateRunning)
}

// ParseVMInfo extracts the interesting "key: value" lines. Missing keys
// are model.Unknown.
func ParseVMInfo(text string) VMInfo {
	info := VMInfo{
		GuestOS:      model.Unknown,
		MemorySize:   model.Unknown,
		NumberOfCPUs: model.Unknown,
		State:        model.Unknown,
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, vmInfoGuestOS):
			info.GuestOS = infoValue(line)
		case strings.HasPrefix(line, vmInfoMemorySize):
			info.MemorySize = infoValue(line)
		case strings.HasPrefix(line, vmInfoMemoryBare):
			// Some VirtualBox versions print "Memory size      4096MB".
			info.MemorySize = strings.TrimSpace(strings.TrimPrefix(line, vmInfoMemoryBare))
		case strings.HasPrefix(line, vmInfoNumberOfCPU):
			info.NumberOfCPUs = infoValue(line)
		case strings.HasPrefix(line, vmInfoState):
			state := infoValue(line)
			state = replaceFirst(vmStateDateTime, state, "$1 $2")
			state = replaceFirst(vmStateFraction, state, ")")
			info.State = state
		}
	}
	return info
}

func infoValue(line string) string {
	_, v, _ := strings.Cut(line, vmInfoSep)
	return strings.TrimSpace(v)
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var dst []byte
	dst = re.ExpandString(dst, repl, s, loc)
	return s[:loc[0]] + string(dst) + s[loc[1]:]
}

// ParsePortScan reports which of the two ports the scan found open.
func ParsePortScan(text, sshPort, rdpPort string) (sshOpen, rdpOpen bool) {
	sshPrefix := sshPort + "/tcp open"
	rdpPrefix := rdpPort + "/tcp open"
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, sshPrefix):
			sshOpen = true
		case strings.HasPrefix(line, rdpPrefix):
			rdpOpen = true
		}
	}
	return sshOpen, rdpOpen
}

// ParseLatestOutput returns the lines between the "Latest output begin:"
// marker and the closing "Connection to ... closed." line. A missing
// output file ends the capture.
func ParseLatestOutput(text string) string {
	var b strings.Builder
	recording := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, latestOutputBegin) {
			recording = true
			continue
		}
		if strings.HasPrefix(line, connectionTo) && strings.HasSuffix(line, connectionClosed) {
			break
		}
		if !recording {
			continue
		}
		if strings.HasSuffix(line, noSuchFile) {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseVMMetrics reads cpu load and total/free RAM (kB) from the last three
// lines of "tira vm-metrics". ok is false when the VM is not running or the
// output is too short.
func ParseVMMetrics(text string) (model.VMMetrics, bool, error) {
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 3 || strings.HasSuffix(strings.TrimSpace(lines[len(lines)-1]), vmNotRunning) {
		return model.VMMetrics{}, false, nil
	}

	cpu := strings.Fields(lines[len(lines)-3])
	total := strings.Fields(lines[len(lines)-2])
	free := strings.Fields(lines[len(lines)-1])
	if len(cpu) < 3 || len(total) < 3 || len(free) < 3 {
		return model.VMMetrics{}, false, nil
	}
	totalKB, err := strconv.Atoi(total[2])
	if err != nil {
		return model.VMMetrics{}, false, fmt.Errorf("total ram: %w: %v", model.ErrParse, err)
	}
	freeKB, err := strconv.Atoi(free[2])
	if err != nil {
		return model.VMMetrics{}, false, fmt.Errorf("free ram: %w: %v", model.ErrParse, err)
	}
	return model.VMMetrics{CPULoad: cpu[2], UsedRAMMB: (totalKB - freeKB) / 1024}, true, nil
}

// CollectVMInfo runs the VM probes in order: vm-info, port scan, sandbox
// markers, supervisor state, ongoing run and its latest output. Later
// probes read what earlier ones found. Failed probes leave their fields at
// defaults and are listed in ProbeErrors.
func (c *Collector) CollectVMInfo(ctx context.Context, user, taskID string, vm model.VirtualMachine) model.VMState {
	st := model.VMState{
		Host:    vm.Host,
		PortSSH: vm.PortSSH,
		PortRDP: vm.PortRDP,
		Process: model.NoProcess(),
	}
	probeFailed := func(probe string, err error) {
		st.ProbeErrors = append(st.ProbeErrors, probe+": "+err.Error())
		c.logger.Warn("vm probe failed", "probe", probe, "user", user, "vm", vm.VMName, "error", err)
	}

	info := ParseVMInfo("")
	if res, err := c.exec.Exec(ctx, shell.HostTool(c.cfg.HostUser, "vm-info", "-r", vm.Host, vm.VMName)); err != nil {
		probeFailed("vm-info", err)
	} else {
		info = ParseVMInfo(res.Stdout)
	}
	st.GuestOS = info.GuestOS
	st.MemorySize = info.MemorySize
	st.NumberOfCPUs = info.NumberOfCPUs
	st.State = info.State
	st.StateRunning = info.Running()

	// grep exits 1 without a match, so the scan never fails on exit status.
	scan := fmt.Sprintf("nmap --max-rtt-timeout 100ms -p %s,%s -PN %s | grep open", vm.PortSSH, vm.PortRDP, vm.Host)
	if res, err := c.exec.Exec(ctx, shell.Bash(scan, false)); err != nil {
		probeFailed("port-scan", err)
	} else {
		st.PortSSHOpen, st.PortRDPOpen = ParsePortScan(res.Stdout, vm.PortSSH, vm.PortRDP)
	}

	if err := c.collectSandboxState(ctx, &st, vm); err != nil {
		probeFailed("sandbox", err)
	}

	ps, err := c.CollectSupervisorState(ctx, user)
	if err != nil {
		probeFailed("supervisor", err)
	}
	st.Process = ps

	c.collectOngoingRun(&st, user, taskID)

	if err := c.collectLatestOutput(ctx, &st, vm); err != nil {
		probeFailed("latest-output", err)
	}
	return st
}

// collectSandboxState checks only the existence of the marker files.
func (c *Collector) collectSandboxState(ctx context.Context, st *model.VMState, vm model.VirtualMachine) error {
	if err := shell.RefreshDir(ctx, c.exec, c.cfg.VMStateDir); err != nil {
		return err
	}
	exists := func(suffix string) bool {
		_, err := os.Stat(filepath.Join(c.cfg.VMStateDir, "~"+vm.VMName+suffix))
		return err == nil
	}
	st.StateSandboxed = exists(markerSandboxed)
	st.StateSandboxing = exists(markerSandboxing)
	st.StateUnsandboxing = exists(markerUnsandboxing)
	return nil
}

// collectOngoingRun attaches the run of the current job and, for
// participant software, the software record.
func (c *Collector) collectOngoingRun(st *model.VMState, user, taskID string) {
	runID := st.Process.RunID
	if runID == model.None || runID == model.Unknown {
		return
	}
	key, err := c.runs.FindRun(user, runID)
	if err != nil {
		return
	}
	r, err := c.runs.ReadRun(key)
	if err != nil {
		c.logger.Warn("ongoing run unreadable", "user", user, "run_id", runID, "error", err)
		return
	}
	st.Run = &r

	if !strings.HasPrefix(st.Process.Type, model.PrefixEvaluator) {
		if r.TaskID != "" {
			taskID = r.TaskID
		}
		if sw, err := c.catalog.Software(taskID, user, st.Process.Type); err == nil {
			st.Software = &sw
		}
	}
}

// collectLatestOutput fetches the tail of a running, non-confidential job's
// output from the VM.
func (c *Collector) collectLatestOutput(ctx context.Context, st *model.VMState, vm model.VirtualMachine) error {
	if !st.Process.Running || st.StateSandboxing || st.StateUnsandboxing || st.Process.RunID == model.Unknown {
		return nil
	}
	if st.Run != nil {
		d, err := c.catalog.Dataset(st.Run.InputDataset)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if err != nil || d.Confidential {
			return nil
		}
	}

	res, err := c.exec.Exec(ctx, shell.HostTool(c.cfg.HostUser, "vm-runtime-output", "-r", vm.Host, vm.VMName, st.Process.RunID))
	if err != nil {
		return err
	}
	if out := ParseLatestOutput(res.Stdout); out != "" {
		st.LatestOutput = out
		st.HasLatestOutput = true
	}
	return nil
}

// CollectVMMetrics samples the VM's load. While a job runs, the sample is
// taken from the job's clone "{vmName}-clone-{runId}". ok is false when the
// VM is not running.
func (c *Collector) CollectVMMetrics(ctx context.Context, vm model.VirtualMachine, ps model.ProcessState) (model.VMMetrics, bool, error) {
	name := vm.VMName
	if ps.Running {
		name += "-clone-" + ps.RunID
	}
	res, err := c.exec.Exec(ctx, shell.HostTool(c.cfg.HostUser, "vm-metrics", "-r", vm.Host, name))
	if err != nil {
		return model.VMMetrics{}, false, err
	}
	return ParseVMMetrics(res.Stdout)
}
