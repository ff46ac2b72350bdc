package model

import "errors"

var (
	// ErrNotFound is returned when a run, record or metadata entry is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a state precondition does not hold, e.g.
	// a submission for a user who already has an active job.
	ErrConflict = errors.New("conflict")

	// ErrInvalid is returned for malformed identifiers, e.g. a run key
	// field that is not a single path segment.
	ErrInvalid = errors.New("invalid argument")

	// ErrExternalTool is returned when a shelled-out command fails.
	ErrExternalTool = errors.New("external tool failure")

	// ErrParse is returned when a persisted text record cannot be parsed.
	ErrParse = errors.New("parse failure")
)
