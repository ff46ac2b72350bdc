package model

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewRunID(t *testing.T) {
	got := NewRunID(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	if got != "2024-01-01-10-00-00" {
		t.Errorf("NewRunID = %q, want %q", got, "2024-01-01-10-00-00")
	}
}

func TestNewAccessTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := NewAccessToken()
		if seen[tok] {
			t.Fatalf("NewAccessToken() produced duplicate: %s", tok)
		}
		seen[tok] = true
	}
}

func TestEvaluationProjectDuplicateKeys(t *testing.T) {
	e := Evaluation{Measures: []Measure{
		{Key: "MAP", Value: "0.3"},
		{Key: "P@10", Value: "0.5"},
	}}

	got := e.Project([]string{"P@10", "MAP", "P@10"})

	want := []Measure{
		{Key: "P@10", Value: "0.5"},
		{Key: "MAP", Value: "0.3"},
		{Key: "P@10", Value: ""},
	}
	if len(got.Measures) != len(want) {
		t.Fatalf("len = %d, want %d", len(got.Measures), len(want))
	}
	for i := range want {
		if got.Measures[i] != want[i] {
			t.Errorf("measure[%d] = %+v, want %+v", i, got.Measures[i], want[i])
		}
	}
}

func TestEvaluationProjectDropsUndeclared(t *testing.T) {
	e := Evaluation{Measures: []Measure{
		{Key: "F1", Value: "0.7"},
		{Key: "nDCG", Value: "0.4"},
	}}

	got := e.Project([]string{"nDCG"})
	if len(got.Measures) != 1 || got.Measures[0].Key != "nDCG" {
		t.Errorf("Project = %+v, want only nDCG", got.Measures)
	}
}

func TestEvaluationProjectNoKeys(t *testing.T) {
	e := Evaluation{Measures: []Measure{{Key: "F1", Value: "0.7"}}}
	got := e.Project(nil)
	if len(got.Measures) != 1 || got.Measures[0].Value != "0.7" {
		t.Errorf("Project(nil) = %+v, want unchanged", got.Measures)
	}
}

func TestReviewDerive(t *testing.T) {
	tests := []struct {
		name                           string
		rr                             RunReview
		wantErrors, wantWarn, wantNone bool
	}{
		{"clean", RunReview{NoErrors: true}, false, false, true},
		{"missing output", RunReview{NoErrors: true, MissingOutput: true}, true, false, false},
		{"invalid output", RunReview{InvalidOutput: true}, true, false, false},
		{"other errors", RunReview{OtherErrors: true}, true, false, false},
		{"error output", RunReview{NoErrors: true, HasErrorOutput: true}, false, true, false},
		{"extraneous output", RunReview{ExtraneousOutput: true}, false, true, false},
		{"nothing set", RunReview{}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := tt.rr
			rr.Derive()
			if rr.HasErrors != tt.wantErrors || rr.HasWarnings != tt.wantWarn || rr.HasNoErrors != tt.wantNone {
				t.Errorf("Derive = errors:%v warnings:%v none:%v, want %v %v %v",
					rr.HasErrors, rr.HasWarnings, rr.HasNoErrors, tt.wantErrors, tt.wantWarn, tt.wantNone)
			}
		})
	}
}

func TestReviewCriteriaApplyKeepsUnset(t *testing.T) {
	rr := RunReview{NoErrors: true, MissingOutput: true, Comment: "old"}
	ReviewCriteria{MissingOutput: Bool(false)}.Apply(&rr)

	if !rr.NoErrors {
		t.Error("NoErrors was overwritten by a nil criterion")
	}
	if rr.MissingOutput {
		t.Error("MissingOutput was not updated")
	}
	if rr.Comment != "old" {
		t.Errorf("Comment = %q, want %q", rr.Comment, "old")
	}
}

func TestIsActiveState(t *testing.T) {
	for _, s := range []string{ProcStarting, ProcRunning, ProcBackoff, ProcStopping} {
		if !IsActiveState(s) {
			t.Errorf("IsActiveState(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"EXITED", "STOPPED", "FATAL", "running", ""} {
		if IsActiveState(s) {
			t.Errorf("IsActiveState(%q) = true, want false", s)
		}
	}
}

func TestRunHasInputRun(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", false},
		{NoInputRun, false},
		{"2024-01-01-10-00-00", true},
	}
	for _, tt := range tests {
		r := Run{InputRun: tt.input}
		if got := r.HasInputRun(); got != tt.want {
			t.Errorf("HasInputRun(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestVirtualMachineOS(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ubuntu-18-04-alice", "ubuntu"},
		{"fedora-alice", "fedora"},
		{"win10-alice", "windows"},
	}
	for _, tt := range tests {
		if got := (VirtualMachine{VMName: tt.name}).OS(); got != tt.want {
			t.Errorf("OS(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRunKeyValidate(t *testing.T) {
	tests := []struct {
		key  RunKey
		want bool
	}{
		{RunKey{Dataset: "ds1", User: "alice", RunID: "2024-01-01-10-00-00"}, true},
		{RunKey{Dataset: "ds1", User: "alice", RunID: "run.v2"}, true},
		{RunKey{Dataset: "ds1", User: "alice", RunID: ""}, false},
		{RunKey{Dataset: "ds1", User: "alice", RunID: "."}, false},
		{RunKey{Dataset: "ds1", User: "alice", RunID: ".."}, false},
		{RunKey{Dataset: "ds1", User: "a/b", RunID: "x"}, false},
		{RunKey{Dataset: `ds\1`, User: "alice", RunID: "x"}, false},
		{RunKey{Dataset: "ds1", User: "alice", RunID: "x\x00"}, false},
	}
	for _, tt := range tests {
		err := tt.key.Validate()
		if (err == nil) != tt.want {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.key, err, tt.want)
		}
		if err != nil && !errors.Is(err, ErrInvalid) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalid", tt.key, err)
		}
	}
}
