// Package workflow contains the concrete state machines built on the engine
// primitives: the escalating multi-level approval workflow and the case
// lifecycle workflow.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/policy"
)

// Register adds both state machines to a workflow registry.
func Register(registry *engine.WorkflowRegistry) error {
	if err := registry.Register(models.WorkflowTypeApproval, Approval); err != nil {
		return err
	}

	return registry.Register(models.WorkflowTypeCaseLifecycle, Lifecycle)
}

// nonCritical filters activity outcomes on degraded paths: a settled
// activity failure is tolerable (log and continue), anything else (executor
// shutdown, checkpoint write failure, replay divergence) must unwind.
func nonCritical(wctx *engine.Context, err error, what string) error {
	if err == nil {
		return nil
	}

	if _, ok := engine.IsActivityFailure(err); !ok {
		return err
	}

	wctx.Logger().Warn("Continuing after non-critical activity failure", "activity", what, "error", err)

	return nil
}

// Approval runs the escalating multi-level sign-off machine. Level count is
// derived from the amount (or given explicitly) before execution starts and
// never changes mid-run. Each level resolves and notifies an approver, then
// suspends until a decision arrives, a cancel arrives, or the decision wait
// elapses.
func Approval(wctx *engine.Context) (models.InstanceStatus, error) {
	var input models.ApprovalInput
	if err := json.Unmarshal(wctx.Input(), &input); err != nil {
		return models.InstanceStatusFailed, fmt.Errorf("decode approval input: %w", err)
	}

	levels := input.EffectiveLevels()
	decisionWait := input.EffectiveDecisionWait()
	escalation := input.EffectiveEscalationPolicy()

	rc := activities.RequestContext{TenantID: wctx.TenantID(), ActorID: input.RequesterID}

	state := &models.ApprovalStatus{
		Running:   true,
		MaxLevel:  levels,
		Status:    models.InstanceStatusRunning,
		Decisions: []models.Decision{},
	}

	if err := wctx.SetState(state); err != nil {
		return models.InstanceStatusFailed, err
	}

	err := wctx.ExecuteActivity(activities.LogWorkflowStart, policy.DataLayerActivityOptions(), rc,
		activities.LogWorkflowStartInput{
			InstanceID:   wctx.InstanceID(),
			WorkflowType: models.WorkflowTypeApproval,
			EntityID:     input.EntityID,
		}, nil)
	if err := nonCritical(wctx, err, activities.LogWorkflowStart); err != nil {
		return models.InstanceStatusFailed, err
	}

	level := 1

	for level <= levels {
		state.CurrentLevel = level
		if err := wctx.SetState(state); err != nil {
			return models.InstanceStatusFailed, err
		}

		var approver activities.ResolveApproverOutput

		err := wctx.ExecuteActivity(activities.ResolveApproverForLevel, policy.CriticalActivityOptions(), rc,
			activities.ResolveApproverInput{
				EntityID: input.EntityID,
				Level:    level,
				Amount:   input.Amount,
			}, &approver)
		if err != nil {
			return models.InstanceStatusFailed, fmt.Errorf("resolve approver for level %d: %w", level, err)
		}

		err = wctx.ExecuteActivity(activities.NotifyApprover, policy.ExternalAPIActivityOptions(), rc,
			activities.NotifyApproverInput{
				EntityID:   input.EntityID,
				ApproverID: approver.ApproverID,
				Level:      level,
				Amount:     input.Amount,
			}, nil)
		if err := nonCritical(wctx, err, activities.NotifyApprover); err != nil {
			return models.InstanceStatusFailed, err
		}

		signal, received, err := wctx.AwaitSignal(decisionWait,
			events.SignalApprovalDecision, events.SignalCancelApproval)
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		if !received {
			// No decision within the wait: record the escalation and move
			// on. With the default advance policy the timed-out level is
			// passed through without an approval; rewait re-resolves the
			// approver and waits at the same level again.
			now, err := wctx.Now()
			if err != nil {
				return models.InstanceStatusFailed, err
			}

			state.Escalated = true
			state.Decisions = append(state.Decisions, models.Decision{
				Level:     level,
				Kind:      models.DecisionEscalated,
				ActorID:   approver.ApproverID,
				Timestamp: now,
			})

			if err := wctx.SetState(state); err != nil {
				return models.InstanceStatusFailed, err
			}

			err = wctx.ExecuteActivity(activities.EscalateApproval, policy.ExternalAPIActivityOptions(), rc,
				activities.EscalateApprovalInput{
					EntityID:   input.EntityID,
					Level:      level,
					ApproverID: approver.ApproverID,
				}, nil)
			if err := nonCritical(wctx, err, activities.EscalateApproval); err != nil {
				return models.InstanceStatusFailed, err
			}

			if escalation == models.EscalationAdvance {
				level++
			}

			continue
		}

		if signal.Name == events.SignalCancelApproval {
			var cancel events.CancelSignal
			if err := json.Unmarshal(signal.Payload, &cancel); err != nil {
				return models.InstanceStatusFailed, fmt.Errorf("decode cancel signal: %w", err)
			}

			// Stop immediately: no further notifications for any level.
			wctx.SetCancelReason(cancel.Reason)

			state.Status = models.InstanceStatusCancelled
			state.Running = false
			state.CancelReason = cancel.Reason

			if err := wctx.SetState(state); err != nil {
				return models.InstanceStatusFailed, err
			}

			return models.InstanceStatusCancelled, nil
		}

		var decision events.ApprovalDecisionSignal
		if err := json.Unmarshal(signal.Payload, &decision); err != nil {
			return models.InstanceStatusFailed, fmt.Errorf("decode decision signal: %w", err)
		}

		now, err := wctx.Now()
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		if !decision.Approved {
			state.Decisions = append(state.Decisions, models.Decision{
				Level:     level,
				Kind:      models.DecisionRejected,
				ActorID:   decision.ActorID,
				Comment:   decision.Comment,
				Timestamp: now,
			})
			state.Status = models.InstanceStatusRejected
			state.Running = false

			if err := wctx.SetState(state); err != nil {
				return models.InstanceStatusFailed, err
			}

			notifyErr := wctx.ExecuteActivity(activities.NotifyRejection, policy.ExternalAPIActivityOptions(), rc,
				activities.NotifyRejectionInput{
					EntityID:    input.EntityID,
					RequesterID: input.RequesterID,
					Level:       level,
					Comment:     decision.Comment,
				}, nil)
			if err := nonCritical(wctx, notifyErr, activities.NotifyRejection); err != nil {
				return models.InstanceStatusFailed, err
			}

			return models.InstanceStatusRejected, nil
		}

		state.Decisions = append(state.Decisions, models.Decision{
			Level:     level,
			Kind:      models.DecisionApproved,
			ActorID:   decision.ActorID,
			Comment:   decision.Comment,
			Timestamp: now,
		})

		if err := wctx.SetState(state); err != nil {
			return models.InstanceStatusFailed, err
		}

		level++
	}

	state.Status = models.InstanceStatusApproved
	state.Running = false
	state.CurrentLevel = levels

	if err := wctx.SetState(state); err != nil {
		return models.InstanceStatusFailed, err
	}

	err = wctx.ExecuteActivity(activities.UpdateEntityStatus, policy.DataLayerActivityOptions(), rc,
		activities.UpdateEntityStatusInput{
			EntityID: input.EntityID,
			Status:   string(models.InstanceStatusApproved),
		}, nil)
	if err != nil {
		return models.InstanceStatusFailed, fmt.Errorf("update entity status: %w", err)
	}

	err = wctx.ExecuteActivity(activities.NotifyCompletion, policy.ExternalAPIActivityOptions(), rc,
		activities.NotifyCompletionInput{
			EntityID:    input.EntityID,
			RequesterID: input.RequesterID,
			Status:      string(models.InstanceStatusApproved),
		}, nil)
	if err := nonCritical(wctx, err, activities.NotifyCompletion); err != nil {
		return models.InstanceStatusFailed, err
	}

	return models.InstanceStatusApproved, nil
}
