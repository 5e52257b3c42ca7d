package engine

import "errors"

var (
	// ErrRunNotFound is returned for ids the registry does not know.
	ErrRunNotFound = errors.New("run not found")
	// ErrDuplicateRunID is returned when starting a run whose id is still running.
	ErrDuplicateRunID = errors.New("run id already in use")
	// ErrRunNotRunning is returned when cancelling a run that already finished.
	ErrRunNotRunning = errors.New("run is not running")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("engine closed")
)
