// Package logged is the built-in activity implementation used when no
// business backend is attached: every activity logs its input and succeeds.
// Deployments wire their own implementations of the activity interfaces;
// this one keeps the worker binary runnable for local development and demos.
package logged

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jurisdesk/lexflow/pkg/activities"
)

type Activities struct {
	logger *slog.Logger
}

var (
	_ activities.ApprovalActivities  = (*Activities)(nil)
	_ activities.LifecycleActivities = (*Activities)(nil)
)

func New(logger *slog.Logger) *Activities {
	return &Activities{logger: logger.With("module", "activities")}
}

func (a *Activities) ResolveApproverForLevel(ctx context.Context, rc activities.RequestContext, in activities.ResolveApproverInput) (activities.ResolveApproverOutput, error) {
	approverID := fmt.Sprintf("approver-l%d", in.Level)

	a.logger.InfoContext(ctx, "Resolved approver",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "level", in.Level, "approver_id", approverID)

	return activities.ResolveApproverOutput{ApproverID: approverID}, nil
}

func (a *Activities) NotifyApprover(ctx context.Context, rc activities.RequestContext, in activities.NotifyApproverInput) error {
	a.logger.InfoContext(ctx, "Notify approver",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "approver_id", in.ApproverID, "level", in.Level)

	return nil
}

func (a *Activities) UpdateEntityStatus(ctx context.Context, rc activities.RequestContext, in activities.UpdateEntityStatusInput) error {
	a.logger.InfoContext(ctx, "Update entity status",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "status", in.Status)

	return nil
}

func (a *Activities) NotifyRejection(ctx context.Context, rc activities.RequestContext, in activities.NotifyRejectionInput) error {
	a.logger.InfoContext(ctx, "Notify rejection",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "requester_id", in.RequesterID, "level", in.Level)

	return nil
}

func (a *Activities) EscalateApproval(ctx context.Context, rc activities.RequestContext, in activities.EscalateApprovalInput) error {
	a.logger.InfoContext(ctx, "Escalate approval",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "level", in.Level, "approver_id", in.ApproverID)

	return nil
}

func (a *Activities) NotifyCompletion(ctx context.Context, rc activities.RequestContext, in activities.NotifyCompletionInput) error {
	a.logger.InfoContext(ctx, "Notify completion",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "status", in.Status)

	return nil
}

func (a *Activities) LogWorkflowStart(ctx context.Context, rc activities.RequestContext, in activities.LogWorkflowStartInput) error {
	a.logger.InfoContext(ctx, "Workflow started",
		"tenant_id", rc.TenantID, "instance_id", in.InstanceID, "workflow_type", in.WorkflowType, "entity_id", in.EntityID)

	return nil
}

func (a *Activities) PersistStageTransition(ctx context.Context, rc activities.RequestContext, in activities.PersistStageTransitionInput) error {
	a.logger.InfoContext(ctx, "Persist stage transition",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "from", in.FromStage, "to", in.ToStage)

	return nil
}

func (a *Activities) PersistRequirementProgress(ctx context.Context, rc activities.RequestContext, in activities.PersistRequirementProgressInput) error {
	a.logger.InfoContext(ctx, "Persist requirement progress",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "requirement_id", in.Progress.RequirementID)

	return nil
}

func (a *Activities) ScheduleReminder(ctx context.Context, rc activities.RequestContext, in activities.ScheduleReminderInput) error {
	a.logger.InfoContext(ctx, "Schedule reminder",
		"tenant_id", rc.TenantID, "entity_id", in.EntityID, "title", in.Title, "due", in.Due, "kind", in.Kind)

	return nil
}
