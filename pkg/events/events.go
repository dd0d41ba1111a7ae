// Package events defines the signal contracts and instance lifecycle event
// types published on the event bus.
package events

import (
	"time"

	"github.com/jurisdesk/lexflow/pkg/models"
)

type EventType string

// Topic carries every orchestration event: start commands and signals from
// the client facade plus instance lifecycle events from the workers.
const Topic = "lexflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Commands from the client facade.
	InstanceStartRequestedEvent EventType = "instance.start.requested"
	SignalDeliveredEvent        EventType = "signal.delivered"

	// Instance lifecycle events consumed by the external CRUD layer.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"
)

// Signal names, versioned by name. Unknown payload shapes are rejected by
// validation at the client boundary, never inside the engine.
const (
	SignalApprovalDecision    = "approvalDecision"
	SignalCancelApproval      = "cancelApproval"
	SignalCompleteRequirement = "completeRequirement"
	SignalTransitionStage     = "transitionStage"
	SignalAddDeadline         = "addDeadline"
	SignalAddCourtDate        = "addCourtDate"
	SignalPause               = "pause"
	SignalResume              = "resume"
	SignalCancelCase          = "cancelCase"
)

// ApprovalDecisionSignal is the payload for approvalDecision.
type ApprovalDecisionSignal struct {
	Approved bool   `json:"approved"`
	ActorID  string `json:"actor_id" validate:"required"`
	Comment  string `json:"comment,omitempty"`
}

// CancelSignal is the payload for cancelApproval and cancelCase.
type CancelSignal struct {
	Reason  string `json:"reason" validate:"required"`
	ActorID string `json:"actor_id,omitempty"`
}

// CompleteRequirementSignal marks a named requirement as done.
type CompleteRequirementSignal struct {
	RequirementID string         `json:"requirement_id" validate:"required"`
	ActorID       string         `json:"actor_id"       validate:"required"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TransitionStageSignal requests an explicit move to a target stage.
type TransitionStageSignal struct {
	StageID string `json:"stage_id" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
	Notes   string `json:"notes,omitempty"`
}

// AddDeadlineSignal attaches a deadline side-record to the instance.
type AddDeadlineSignal struct {
	Title       string    `json:"title" validate:"required"`
	Date        time.Time `json:"date"  validate:"required"`
	Description string    `json:"description,omitempty"`
}

// AddCourtDateSignal attaches a court date side-record to the instance.
type AddCourtDateSignal struct {
	Title    string    `json:"title" validate:"required"`
	Date     time.Time `json:"date"  validate:"required"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// PauseSignal suspends requirement/transition processing.
type PauseSignal struct {
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ResumeSignal re-enables processing.
type ResumeSignal struct {
	ActorID string `json:"actor_id,omitempty"`
}

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

type InstanceStartRequested struct {
	BaseEvent

	WorkflowType string `json:"workflow_type"`
	EntityID     string `json:"entity_id"`
	TenantID     string `json:"tenant_id"`
	Input        []byte `json:"input,omitempty"`
}

func (e InstanceStartRequested) GetType() EventType {
	return InstanceStartRequestedEvent
}

type SignalDelivered struct {
	BaseEvent

	Signal models.SignalEnvelope `json:"signal"`
}

func (e SignalDelivered) GetType() EventType {
	return SignalDeliveredEvent
}

type InstanceStarted struct {
	BaseEvent

	WorkflowType string `json:"workflow_type"`
	EntityID     string `json:"entity_id"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

// InstanceCompleted is published once an instance reaches a successful
// terminal status (approved or completed). It carries the final snapshot so
// the external CRUD layer can copy it into a persisted record.
type InstanceCompleted struct {
	BaseEvent

	Status models.InstanceStatus `json:"status"`
	State  []byte                `json:"state,omitempty"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	Error string `json:"error"`
	State []byte `json:"state,omitempty"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent

	Reason string `json:"reason"`
	State  []byte `json:"state,omitempty"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// NewBaseEvent fills the common fields for an event about an instance.
func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
	}
}
