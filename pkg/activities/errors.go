// Package activities defines the activity contracts consumed by workflow
// code and the retrying invoker that executes them.
package activities

import (
	"errors"
	"fmt"

	"github.com/jurisdesk/lexflow/pkg/policy"
)

var (
	// ErrActivityNotFound indicates no activity is registered under the name.
	ErrActivityNotFound = errors.New("activity not found")

	// ErrRetriesExhausted indicates the retry policy ran out of attempts.
	ErrRetriesExhausted = errors.New("activity retries exhausted")

	// ErrHeartbeatTimeout indicates a long-running activity stopped emitting
	// heartbeats within its heartbeat timeout.
	ErrHeartbeatTimeout = errors.New("activity heartbeat timeout")
)

// ActivityError wraps a failure from an activity implementation with its
// error kind so retry policies can classify it.
type ActivityError struct {
	Activity string // Activity name
	Kind     string // One of the policy.ErrorKind* values, or empty
	Attempts int    // Attempts made before giving up
	Err      error  // Underlying error
}

func (e *ActivityError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("activity %s failed (%s): %v", e.Activity, e.Kind, e.Err)
	}

	return fmt.Sprintf("activity %s failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a non-retryable validation failure.
func NewValidationError(activity string, err error) *ActivityError {
	return &ActivityError{Activity: activity, Kind: policy.ErrorKindValidation, Err: err}
}

// NewDuplicateKeyError builds a non-retryable duplicate-key failure.
func NewDuplicateKeyError(activity string, err error) *ActivityError {
	return &ActivityError{Activity: activity, Kind: policy.ErrorKindDuplicateKey, Err: err}
}

// ErrorKind extracts the classification kind from an error chain.
func ErrorKind(err error) string {
	var actErr *ActivityError
	if errors.As(err, &actErr) {
		return actErr.Kind
	}

	return ""
}
