package supervisor

import (
	"strings"

	"github.com/tira-io/tirad/internal/model"
)

const (
	confSuffix   = ".conf"
	uptimeMarker = "uptime "

	// runIDFields is the number of dash-separated fields of a run id.
	runIDFields = 6
)

// ParseStatus parses a full status listing. Lines without a state column
// are skipped.
func ParseStatus(text string) []model.ManagedProcess {
	var procs []model.ManagedProcess
	for _, line := range strings.Split(text, "\n") {
		if p, ok := ParseStatusLine(line); ok {
			procs = append(procs, p)
		}
	}
	return procs
}

// ParseStatusLine parses one "name[.conf] STATE description" status line.
// Job names never contain whitespace, so any run of it separates the
// columns; supervisorctl pads names to 32 characters and longer names are
// followed by a single space. The uptime degrades to model.Unknown when the
// description carries none.
func ParseStatusLine(line string) (model.ManagedProcess, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return model.ManagedProcess{}, false
	}

	p := model.ManagedProcess{
		Name:   strings.TrimSuffix(fields[0], confSuffix),
		State:  fields[1],
		Uptime: model.Unknown,
	}
	desc := strings.Join(fields[2:], " ")
	if _, uptime, ok := strings.Cut(desc, uptimeMarker); ok && uptime != "" {
		p.Uptime = uptime
	}
	return p, true
}

// ParseJobName recovers the job type and the trailing six-field run id from
// "{user}-{type}-{yyyy-MM-dd-HH-mm-ss}". User names may contain dashes, so
// fields are counted from the end. Names with too few fields yield
// model.Unknown for both.
func ParseJobName(name string) (jobType, runID string) {
	fields := strings.Split(strings.TrimSuffix(name, confSuffix), "-")
	if len(fields) <= runIDFields+1 {
		return model.Unknown, model.Unknown
	}
	jobType = fields[len(fields)-runIDFields-1]
	runID = strings.Join(fields[len(fields)-runIDFields:], "-")
	return jobType, runID
}

// OwnedBy reports whether the job name belongs to user. When the name has
// the full structure the user part must match exactly; otherwise the
// "{user}-" prefix decides.
func OwnedBy(name, user string) bool {
	name = strings.TrimSuffix(name, confSuffix)
	if !strings.HasPrefix(name, user+"-") {
		return false
	}
	fields := strings.Split(name, "-")
	if len(fields) <= runIDFields+1 {
		return true
	}
	return strings.Join(fields[:len(fields)-runIDFields-1], "-") == user
}

// JobName builds the job name for a user, job type and suffix.
func JobName(user, jobType, suffix string) string {
	return user + "-" + jobType + "-" + suffix
}

// JobOwner recovers the user part of a fully structured job name.
func JobOwner(name string) (string, bool) {
	fields := strings.Split(strings.TrimSuffix(name, confSuffix), "-")
	if len(fields) <= runIDFields+1 {
		return "", false
	}
	return strings.Join(fields[:len(fields)-runIDFields-1], "-"), true
}
