package store

import "errors"

// Sentinel errors returned by store lookups, dispatched with errors.Is
// the way the teacher's pkg/database layer signals not-found conditions.
var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadySealed = errors.New("store: evidence bundle already sealed")
)
