package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrProjectNotFound, ErrTaskNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidTransition is returned when a status update names a
	// transition the entity's state machine does not allow, for example
	// completing a task that is not running.
	ErrInvalidTransition = errors.New("invalid status transition")

	// Entity-specific "not found" errors

	// ErrProjectNotFound indicates that the requested project does not exist in the store.
	ErrProjectNotFound = fmt.Errorf("%w: project", ErrNotFound)

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrImageNotFound indicates that the requested image does not exist in the store.
	ErrImageNotFound = fmt.Errorf("%w: image", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrDuplicateTask indicates that the project already has a pending or
	// running task of the same type. A new task may only be created once
	// the previous one reaches a terminal state.
	ErrDuplicateTask = fmt.Errorf("%w: active task of this type", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
// This includes the generic ErrNotFound and all entity-specific not found errors.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
