package repository

import "errors"

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateRecord is returned when attempting to create a record that violates a unique constraint
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrStaleSequence is returned when a write lost to a newer transition of the same job
	ErrStaleSequence = errors.New("stale job sequence")

	// ErrInvalidState is returned when a state write names a state the call does not accept
	ErrInvalidState = errors.New("invalid state")
)
