// Package engine implements the durable workflow execution runtime: one
// cooperative logical thread per instance, append-only history, checkpoint
// after every transition, deterministic replay on restart.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrReplayDivergence indicates workflow code requested a different
	// operation than what the recorded history contains. Workflow code must
	// be deterministic; hitting this means it is not.
	ErrReplayDivergence = errors.New("replay diverged from recorded history")

	// ErrCheckpointFailed indicates the durable store rejected a checkpoint
	// write. The logical thread stops without a terminal transition so the
	// instance is recovered by replay on the next start.
	ErrCheckpointFailed = errors.New("checkpoint write failed")

	// ErrInstanceTerminal indicates a signal arrived after the instance
	// reached a terminal status.
	ErrInstanceTerminal = errors.New("instance already terminal")

	// ErrWorkflowNotFound indicates no workflow function is registered for
	// the requested type.
	ErrWorkflowNotFound = errors.New("workflow type not registered")
)

// ActivityFailure is the deterministic form of an activity error surfaced to
// workflow code. Live execution and replay both produce this exact value, so
// a machine's reaction to a failure is identical on both paths.
type ActivityFailure struct {
	Activity string `json:"activity"`
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message"`
}

func (f *ActivityFailure) Error() string {
	if f.Kind != "" {
		return fmt.Sprintf("activity %s failed (%s): %s", f.Activity, f.Kind, f.Message)
	}

	return fmt.Sprintf("activity %s failed: %s", f.Activity, f.Message)
}

// IsActivityFailure extracts an ActivityFailure from an error chain.
func IsActivityFailure(err error) (*ActivityFailure, bool) {
	var failure *ActivityFailure
	if errors.As(err, &failure) {
		return failure, true
	}

	return nil, false
}
