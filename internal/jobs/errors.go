package jobs

import "errors"

// Repository errors.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCancellable = errors.New("only pending jobs can be cancelled")
)

// Enqueue and dispatch errors.
var (
	ErrEmptyJobType     = errors.New("job type is required")
	ErrNoHandler        = errors.New("no handler registered for job type")
	ErrInvalidJobStatus = errors.New("invalid job status")
)
