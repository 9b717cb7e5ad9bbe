package fileanalysis

import "errors"

var (
	// ErrPathTraversal is returned when a job's file path escapes the
	// run's target root.
	ErrPathTraversal = errors.New("fileanalysis: file path escapes target root")
	// ErrFileTooLarge is returned when a file exceeds the configured
	// maximum size. It is not retryable — the file is marked failed and
	// a dead letter is recorded instead of raising the error to the
	// queue.
	ErrFileTooLarge = errors.New("fileanalysis: file exceeds configured maximum size")
)
