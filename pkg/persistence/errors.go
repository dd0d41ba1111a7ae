// Package persistence provides standardized error types for checkpoint
// store operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrInstanceNotFound indicates no checkpoint exists for the identifier.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceAlreadyExists indicates a checkpoint with the same
	// deterministic identifier already exists.
	ErrInstanceAlreadyExists = errors.New("instance already exists")
)

// CheckpointError wraps checkpoint store errors with operation context.
type CheckpointError struct {
	Op         string // Operation being performed (e.g., "Save", "ByID", "Delete")
	InstanceID string // Instance ID if applicable
	Err        error  // Underlying error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

func (e *CheckpointError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewCheckpointError creates a new checkpoint error with context.
func NewCheckpointError(op, instanceID string, err error) *CheckpointError {
	return &CheckpointError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}
