package model

import "errors"

var (
	// ErrUnknownIndicator: a name is neither a preset nor a stored definition.
	ErrUnknownIndicator = errors.New("unknown indicator")
	// ErrInvalid wraps request validation failures.
	ErrInvalid = errors.New("invalid request")
)
