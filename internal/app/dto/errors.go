package dto

import "errors"

// Request errors
var (
	ErrMissingGraph    = errors.New("graph name is required")
	ErrMissingThreadID = errors.New("thread ID is required")
	ErrInvalidRequest  = errors.New("invalid request")
)
