package model

import (
	"fmt"
	"strings"
)

// Software id prefixes distinguish participant software from evaluators.
const (
	PrefixSoftware  = "software"
	PrefixEvaluator = "evaluator"
)

// NoInputRun marks a run that does not consume another run's output.
const NoInputRun = "none"

// Run lifecycle states as observed through the process manager and the
// run's artifacts. They are derived and never persisted.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Run is the persisted record of one execution attempt.
type Run struct {
	TaskID       string `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	SoftwareID   string `yaml:"software_id" json:"software_id"`
	RunID        string `yaml:"run_id" json:"run_id"`
	InputDataset string `yaml:"input_dataset" json:"input_dataset"`
	InputRun     string `yaml:"input_run,omitempty" json:"input_run,omitempty"`
	Deleted      bool   `yaml:"deleted" json:"deleted"`
	Downloadable bool   `yaml:"downloadable" json:"downloadable"`
	AccessToken  string `yaml:"access_token" json:"-"`
}

// IsEvaluation reports whether the run was produced by an evaluator.
func (r *Run) IsEvaluation() bool {
	return strings.HasPrefix(r.SoftwareID, PrefixEvaluator)
}

// HasInputRun reports whether the run consumed another run's output.
func (r *Run) HasInputRun() bool {
	return r.InputRun != "" && r.InputRun != NoInputRun
}

// RunKey locates a run directory: {runsRoot}/{dataset}/{user}/{runId}.
type RunKey struct {
	Dataset string `json:"dataset"`
	User    string `json:"user"`
	RunID   string `json:"run_id"`
}

// Validate checks that every field of k names a single directory entry.
func (k RunKey) Validate() error {
	for _, v := range []string{k.Dataset, k.User, k.RunID} {
		if !ValidSegment(v) {
			return fmt.Errorf("run key %q/%q/%q: %w", k.Dataset, k.User, k.RunID, ErrInvalid)
		}
	}
	return nil
}

// ValidSegment reports whether s is usable as one path component.
func ValidSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\\x00")
}

// ExtendedRun is a run together with everything the engine can tell about
// it from the shared tree and the process manager.
type ExtendedRun struct {
	Run            Run          `json:"run"`
	Key            RunKey       `json:"key"`
	Status         string       `json:"status"`
	Review         *RunReview   `json:"review,omitempty"`
	IsEvaluation   bool         `json:"is_evaluation"`
	Stdout         string       `json:"stdout,omitempty"`
	Stderr         string       `json:"stderr,omitempty"`
	FileList       string       `json:"file_list,omitempty"`
	Runtime        string       `json:"runtime,omitempty"`
	RuntimeDetails string       `json:"runtime_details,omitempty"`
	Size           string       `json:"size,omitempty"`
	SizeInBytes    string       `json:"size_in_bytes,omitempty"`
	NumLines       string       `json:"num_lines,omitempty"`
	NumFiles       string       `json:"num_files,omitempty"`
	NumDirectories string       `json:"num_directories,omitempty"`
	Evaluation     *Evaluation  `json:"evaluation,omitempty"`
	InputRun       *ExtendedRun `json:"input_run,omitempty"`
	IsDeprecated   bool         `json:"is_deprecated"`
}
