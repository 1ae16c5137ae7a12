package pool

import (
	"errors"
	"fmt"
)

// ErrAcquireTimeout is returned when no connection became available within the acquire timeout
var ErrAcquireTimeout = errors.New("timed out waiting for a pooled connection")

// ErrClosed is returned by operations on a closed Manager
var ErrClosed = errors.New("connection pool is closed")

// FatalPoolError reports a pool that can no longer reach the database.
// It is raised through Config.OnFatal and is not recoverable locally.
type FatalPoolError struct {
	Failures int
	Err      error
}

func (e *FatalPoolError) Error() string {
	return fmt.Sprintf("connection pool unusable after %d consecutive failed health checks: %v", e.Failures, e.Err)
}

func (e *FatalPoolError) Unwrap() error {
	return e.Err
}
