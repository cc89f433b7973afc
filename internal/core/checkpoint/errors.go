package checkpoint

import "errors"

// Domain errors - defined once, used by every store
var (
	// Checkpoint validation errors
	ErrInvalidCheckpointID = errors.New("invalid checkpoint ID")
	ErrInvalidGraphID      = errors.New("invalid graph ID")
	ErrInvalidThreadID     = errors.New("invalid thread ID")
	ErrNilState            = errors.New("checkpoint state cannot be nil")
	ErrNilCheckpoint       = errors.New("checkpoint cannot be nil")
	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrThreadLocked        = errors.New("thread is locked by another writer")

	// Filter validation errors
	ErrInvalidLimit     = errors.New("limit cannot be negative")
	ErrInvalidOffset    = errors.New("offset cannot be negative")
	ErrInvalidTimeRange = errors.New("invalid time range: since is after before")
)
