// Package models defines the core domain models for durable workflow
// orchestration: instances, checkpoints, decisions and lifecycle templates.
package models

import (
	"encoding/json"
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusApproved  InstanceStatus = "approved"
	InstanceStatusRejected  InstanceStatus = "rejected"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
)

// IsTerminal reports whether the status is final. A terminal status, once
// set, never changes and no further signals are processed.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusApproved, InstanceStatusRejected, InstanceStatusCancelled,
		InstanceStatusCompleted, InstanceStatusFailed:
		return true
	default:
		return false
	}
}

// Workflow type names registered with the worker.
const (
	WorkflowTypeApproval      = "invoice-approval"
	WorkflowTypeCaseLifecycle = "case-lifecycle"
)

// InstanceID derives the deterministic instance identifier from the workflow
// type and entity id. There is no embedded timestamp, so at most one running
// instance can exist per entity at a time.
func InstanceID(workflowType, entityID string) string {
	return workflowType + "-" + entityID
}

// DecisionKind classifies an entry in the decision/event log.
type DecisionKind string

const (
	DecisionApproved             DecisionKind = "approved"
	DecisionRejected             DecisionKind = "rejected"
	DecisionEscalated            DecisionKind = "escalated"
	DecisionTransition           DecisionKind = "transition"
	DecisionRequirementCompleted DecisionKind = "requirement_completed"
)

// Decision is one record in an instance's append-only decision/event log.
// Records are never rewritten or reordered; together they form the full
// audit trail returned to callers.
type Decision struct {
	Level     int          `json:"level,omitempty"`
	Stage     string       `json:"stage,omitempty"`
	Kind      DecisionKind `json:"kind"`
	ActorID   string       `json:"actor_id,omitempty"`
	Comment   string       `json:"comment,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EntryKind classifies a recorded history entry.
type EntryKind string

const (
	EntryActivityCompleted EntryKind = "activity.completed"
	EntryActivityFailed    EntryKind = "activity.failed"
	EntrySignalReceived    EntryKind = "signal.received"
	EntryTimerFired        EntryKind = "timer.fired"
	EntryNowRecorded       EntryKind = "now.recorded"
)

// Entry is one durable history record. The history is the source of truth
// for deterministic replay: every non-deterministic result observed by
// workflow code (activity results, signals, timer outcomes, recorded time)
// is appended here before the logical thread proceeds.
type Entry struct {
	Seq        int             `json:"seq"`
	Kind       EntryKind       `json:"kind"`
	Name       string          `json:"name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// SignalEnvelope carries one signal delivered to a running instance.
// Envelopes are queued in strict delivery order and only consumed at
// suspension points.
type SignalEnvelope struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	DeliveredAt time.Time       `json:"delivered_at"`
}

// Checkpoint is the durable snapshot of a workflow instance, written after
// every state transition. On restart the executor replays History to rebuild
// the in-memory state and resumes from the last recorded entry.
type Checkpoint struct {
	InstanceID   string         `json:"instance_id"`
	WorkflowType string         `json:"workflow_type" validate:"required"`
	EntityID     string         `json:"entity_id"     validate:"required"`
	TenantID     string         `json:"tenant_id"`
	Status       InstanceStatus `json:"status"`
	// State is the machine-specific query snapshot (current level/stage,
	// decision log, pending flags), refreshed by the machine after each
	// transition.
	State          json.RawMessage  `json:"state,omitempty"`
	Input          json.RawMessage  `json:"input,omitempty"`
	History        []Entry          `json:"history,omitempty"`
	PendingSignals []SignalEnvelope `json:"pending_signals,omitempty"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
