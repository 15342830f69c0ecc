package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the entity failed domain validation.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates the entity is not in a state that permits the operation.
	ErrConflict = errors.New("conflict")
)
