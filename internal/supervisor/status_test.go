package supervisor_test

import (
	"testing"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/supervisor"
)

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   model.ManagedProcess
		wantOK bool
	}{
		{
			name:   "running with uptime",
			line:   "alice-software3-2024-01-01-10-00-00  RUNNING   pid 4242, uptime 0:05:23",
			want:   model.ManagedProcess{Name: "alice-software3-2024-01-01-10-00-00", State: "RUNNING", Uptime: "0:05:23"},
			wantOK: true,
		},
		{
			name:   "exited without uptime",
			line:   "bob-evaluator1-2024-02-02-11-11-11  EXITED    Feb 02 11:20 AM",
			want:   model.ManagedProcess{Name: "bob-evaluator1-2024-02-02-11-11-11", State: "EXITED", Uptime: model.Unknown},
			wantOK: true,
		},
		{
			name:   "conf suffix stripped",
			line:   "carol-startVm-2024-03-03-09-00-00.conf STARTING",
			want:   model.ManagedProcess{Name: "carol-startVm-2024-03-03-09-00-00", State: "STARTING", Uptime: model.Unknown},
			wantOK: true,
		},
		{
			name:   "long name followed by a single space",
			line:   "alice-software3-2024-01-01-10-00-00 RUNNING    pid 12, uptime 0:05:23",
			want:   model.ManagedProcess{Name: "alice-software3-2024-01-01-10-00-00", State: "RUNNING", Uptime: "0:05:23"},
			wantOK: true,
		},
		{
			name:   "tab separated",
			line:   "dave-software1-2024-01-01-10-00-00\tBACKOFF\tExited too quickly",
			want:   model.ManagedProcess{Name: "dave-software1-2024-01-01-10-00-00", State: "BACKOFF", Uptime: model.Unknown},
			wantOK: true,
		},
		{name: "blank", line: "   ", wantOK: false},
		{name: "name only", line: "lonely", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := supervisor.ParseStatusLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLongJobNamesCountAsActive(t *testing.T) {
	// supervisorctl 3.x pads names to 32 columns; these are all longer.
	text := "alice-software3-2024-01-01-10-00-00 RUNNING    pid 12, uptime 0:05:23\n" +
		"bob-evaluator1-2024-01-01-09-00-00 EXITED     Jan 01 09:10 AM\n"
	active := supervisor.Active(supervisor.ForUser(supervisor.ParseStatus(text), "alice"))
	if len(active) != 1 || active[0].Name != "alice-software3-2024-01-01-10-00-00" {
		t.Fatalf("active = %+v, want alice's running job", active)
	}
	if len(supervisor.Active(supervisor.ForUser(supervisor.ParseStatus(text), "bob"))) != 0 {
		t.Error("bob's exited job counted as active")
	}
}

func TestParseStatusSkipsJunk(t *testing.T) {
	text := "alice-software3-2024-01-01-10-00-00  RUNNING   pid 1, uptime 0:00:01\n\n" +
		"bob-software1-2024-01-01-10-00-00  EXITED    Jan 01 10:10 AM\n"
	procs := supervisor.ParseStatus(text)
	if len(procs) != 2 {
		t.Fatalf("len = %d, want 2", len(procs))
	}
	if procs[1].Name != "bob-software1-2024-01-01-10-00-00" {
		t.Errorf("second name = %q", procs[1].Name)
	}
}

func TestParseJobName(t *testing.T) {
	tests := []struct {
		name     string
		wantType string
		wantRun  string
	}{
		{"alice-software3-2024-01-01-10-00-00", "software3", "2024-01-01-10-00-00"},
		{"team-x-evaluator2-2024-01-01-10-00-00", "evaluator2", "2024-01-01-10-00-00"},
		{"alice-startVm-2024-05-06-07-08-09.conf", "startVm", "2024-05-06-07-08-09"},
		{"alice-software3", model.Unknown, model.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobType, runID := supervisor.ParseJobName(tt.name)
			if jobType != tt.wantType || runID != tt.wantRun {
				t.Errorf("got (%q, %q), want (%q, %q)", jobType, runID, tt.wantType, tt.wantRun)
			}
		})
	}
}

func TestOwnedBy(t *testing.T) {
	tests := []struct {
		name string
		user string
		want bool
	}{
		{"alice-software3-2024-01-01-10-00-00", "alice", true},
		{"alice-bob-software3-2024-01-01-10-00-00", "alice", false},
		{"alice-bob-software3-2024-01-01-10-00-00", "alice-bob", true},
		{"alicia-software3-2024-01-01-10-00-00", "alice", false},
		{"alice-adhoc", "alice", true},
	}
	for _, tt := range tests {
		if got := supervisor.OwnedBy(tt.name, tt.user); got != tt.want {
			t.Errorf("OwnedBy(%q, %q) = %v, want %v", tt.name, tt.user, got, tt.want)
		}
	}
}

func TestForUserAndActive(t *testing.T) {
	procs := []model.ManagedProcess{
		{Name: "alice-software1-2024-01-01-10-00-00", State: "EXITED"},
		{Name: "alice-software2-2024-01-02-10-00-00", State: "RUNNING"},
		{Name: "bob-software1-2024-01-01-10-00-00", State: "RUNNING"},
	}
	active := supervisor.Active(supervisor.ForUser(procs, "alice"))
	if len(active) != 1 || active[0].Name != "alice-software2-2024-01-02-10-00-00" {
		t.Errorf("active = %+v", active)
	}
}

func TestJobOwner(t *testing.T) {
	if u, ok := supervisor.JobOwner("team-x-software1-2024-01-01-10-00-00"); !ok || u != "team-x" {
		t.Errorf("JobOwner = %q, %v", u, ok)
	}
	if _, ok := supervisor.JobOwner("alice-adhoc"); ok {
		t.Error("unstructured name has an owner")
	}
}
