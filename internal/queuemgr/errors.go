package queuemgr

import "errors"

var (
	// ErrUnknownQueue is returned when a caller names a queue outside the
	// fixed allow-list in topology.go.
	ErrUnknownQueue = errors.New("queuemgr: unknown queue")
	// ErrQueueUnavailable wraps a Redis connectivity failure once Connect
	// stops retrying because its context is done.
	ErrQueueUnavailable = errors.New("queuemgr: queue backend unavailable")
	// ErrNoJob is returned by Claim when the poll window elapses with no
	// work available; callers treat it as a normal empty poll, not a
	// failure.
	ErrNoJob = errors.New("queuemgr: no job available")
	// ErrAlreadySealed is returned by SealByGraceTimeout when another
	// worker has already won the CAS for the same bundle.
	ErrAlreadySealed = errors.New("queuemgr: evidence bundle already sealed")
)
