package downloader

import "errors"

var (
	// ErrCancelled is returned when downloading was stopped.
	ErrCancelled = errors.New("download cancelled")
	// ErrUnsupportedMedia marks media the remote cannot fetch. Not retried.
	ErrUnsupportedMedia = errors.New("unsupported media")
	// ErrSizeMismatch is returned when fetched bytes do not cover the chunk plan.
	ErrSizeMismatch = errors.New("fetched size does not match expected size")
	// ErrIncompleteMerge is returned when chunks cannot be merged.
	ErrIncompleteMerge = errors.New("chunks incomplete")
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("download manager not running")
)
