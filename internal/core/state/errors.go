package state

import "errors"

var (
	// ErrUnknownReducer is returned for an unrecognized reducer type name
	ErrUnknownReducer = errors.New("unknown reducer type")
)
