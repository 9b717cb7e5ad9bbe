package producer

import "errors"

var (
	// ErrEmptyTarget is returned when the target root contains no files
	// matching the include/exclude glob configuration.
	ErrEmptyTarget = errors.New("producer: target root yielded no files")
)
