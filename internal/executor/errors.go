package executor

import "errors"

var (
	// ErrNotInitialized is returned when Run is called before a successful Initialize
	ErrNotInitialized = errors.New("executor not initialized")

	// ErrExecutorClosed is returned when Run is called after Shutdown
	ErrExecutorClosed = errors.New("executor closed")
)
