package errors

import "errors"

var (
	// ErrNotFound indicates that the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrEntityExists indicates that an entity with the same ID already exists.
	ErrEntityExists = errors.New("entity already exists")

	// ErrInvalidData indicates malformed or unexpected data.
	ErrInvalidData = errors.New("invalid data")
)
