package bridge

import (
	"fmt"
	"time"
)

// SpawnError means the worker executable could not be launched.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError means the worker ran past its deadline and was terminated.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker timed out after %v", e.After)
}

// StreamError wraps an I/O failure on one of the worker's pipes or while reaping it.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// CanceledError means the caller's context ended before the worker finished.
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("worker canceled: %v", e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }
