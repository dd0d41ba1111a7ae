package activities

import (
	"context"
	"time"

	"github.com/jurisdesk/lexflow/pkg/models"
)

// Activity names invoked by the workflow machines. Implementations live in
// the external CRUD/business layer and are registered under these names.
const (
	ResolveApproverForLevel = "resolve-approver-for-level"
	NotifyApprover          = "notify-approver"
	UpdateEntityStatus      = "update-entity-status"
	NotifyRejection         = "notify-rejection"
	EscalateApproval        = "escalate-approval"
	NotifyCompletion        = "notify-completion"
	LogWorkflowStart        = "log-workflow-start"

	PersistStageTransition     = "persist-stage-transition"
	PersistRequirementProgress = "persist-requirement-progress"
	ScheduleReminder           = "schedule-reminder"
)

// RequestContext carries tenant and actor identity into every side-effecting
// call. It is always an explicit parameter, never ambient state, so workflow
// code stays deterministic and replay-safe.
type RequestContext struct {
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id,omitempty"`
}

// ResolveApproverInput asks the business layer who signs off a given level.
type ResolveApproverInput struct {
	EntityID string  `json:"entity_id"`
	Level    int     `json:"level"`
	Amount   float64 `json:"amount"`
}

// ResolveApproverOutput identifies the resolved approver.
type ResolveApproverOutput struct {
	ApproverID string `json:"approver_id"`
}

// NotifyApproverInput notifies a party that a decision is awaited.
type NotifyApproverInput struct {
	EntityID   string  `json:"entity_id"`
	ApproverID string  `json:"approver_id"`
	Level      int     `json:"level"`
	Amount     float64 `json:"amount"`
}

// UpdateEntityStatusInput records the entity's new status in the data layer.
type UpdateEntityStatusInput struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
}

// NotifyRejectionInput notifies the requester of a rejection.
type NotifyRejectionInput struct {
	EntityID    string `json:"entity_id"`
	RequesterID string `json:"requester_id"`
	Level       int    `json:"level"`
	Comment     string `json:"comment,omitempty"`
}

// EscalateApprovalInput reports a level that timed out without a decision.
type EscalateApprovalInput struct {
	EntityID   string `json:"entity_id"`
	Level      int    `json:"level"`
	ApproverID string `json:"approver_id"`
}

// NotifyCompletionInput notifies the requester of a terminal success.
type NotifyCompletionInput struct {
	EntityID    string `json:"entity_id"`
	RequesterID string `json:"requester_id"`
	Status      string `json:"status"`
}

// LogWorkflowStartInput records that an instance began executing.
type LogWorkflowStartInput struct {
	InstanceID   string `json:"instance_id"`
	WorkflowType string `json:"workflow_type"`
	EntityID     string `json:"entity_id"`
}

// PersistStageTransitionInput writes a stage change to the data layer.
type PersistStageTransitionInput struct {
	EntityID  string `json:"entity_id"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	Notes     string `json:"notes,omitempty"`
}

// PersistRequirementProgressInput writes requirement completion.
type PersistRequirementProgressInput struct {
	EntityID string                     `json:"entity_id"`
	Progress models.RequirementProgress `json:"progress"`
}

// ScheduleReminderInput asks the reminder layer to schedule a notification
// ahead of a deadline or court date.
type ScheduleReminderInput struct {
	EntityID string    `json:"entity_id"`
	Title    string    `json:"title"`
	Due      time.Time `json:"due"`
	Kind     string    `json:"kind"` // "deadline" or "court-date"
}

// ApprovalActivities is the contract the business layer implements for the
// approval machine. Every method is invoked with at-least-once semantics and
// must be idempotent.
type ApprovalActivities interface {
	ResolveApproverForLevel(ctx context.Context, rc RequestContext, in ResolveApproverInput) (ResolveApproverOutput, error)
	NotifyApprover(ctx context.Context, rc RequestContext, in NotifyApproverInput) error
	UpdateEntityStatus(ctx context.Context, rc RequestContext, in UpdateEntityStatusInput) error
	NotifyRejection(ctx context.Context, rc RequestContext, in NotifyRejectionInput) error
	EscalateApproval(ctx context.Context, rc RequestContext, in EscalateApprovalInput) error
	NotifyCompletion(ctx context.Context, rc RequestContext, in NotifyCompletionInput) error
	LogWorkflowStart(ctx context.Context, rc RequestContext, in LogWorkflowStartInput) error
}

// LifecycleActivities is the contract for the case lifecycle machine.
type LifecycleActivities interface {
	PersistStageTransition(ctx context.Context, rc RequestContext, in PersistStageTransitionInput) error
	PersistRequirementProgress(ctx context.Context, rc RequestContext, in PersistRequirementProgressInput) error
	ScheduleReminder(ctx context.Context, rc RequestContext, in ScheduleReminderInput) error
	UpdateEntityStatus(ctx context.Context, rc RequestContext, in UpdateEntityStatusInput) error
	NotifyCompletion(ctx context.Context, rc RequestContext, in NotifyCompletionInput) error
	LogWorkflowStart(ctx context.Context, rc RequestContext, in LogWorkflowStartInput) error
}
