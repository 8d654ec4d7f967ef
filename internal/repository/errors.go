package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrNetwork is returned when the remote event store cannot be reached.
	ErrNetwork = errors.New("remote event store unreachable")

	// ErrValidation is returned when the remote event store rejects a payload.
	ErrValidation = errors.New("remote event store rejected request")
)
