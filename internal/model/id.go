package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RunIDLayout is the sortable timestamp layout used for run ids and for
// job names that carry no run id.
const RunIDLayout = "2006-01-02-15-04-05"

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewRunID formats t as a run id, e.g. "2024-01-01-10-00-00".
func NewRunID(t time.Time) string {
	return t.Format(RunIDLayout)
}

// NewAccessToken returns a fresh opaque token for run downloads.
func NewAccessToken() string {
	return uuid.NewString()
}
