package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
)

// litigationTemplate is a small four-stage graph: intake auto-advances to
// discovery once its required items are done, discovery and trial take
// explicit transitions, closed is final.
func litigationTemplate() models.StageTemplate {
	return models.StageTemplate{
		Name: "litigation",
		Stages: []models.Stage{
			{
				Name:      "intake",
				Order:     0,
				IsInitial: true,
				Requirements: []models.Requirement{
					{ID: "intake-form", Type: "document", IsRequired: true},
					{ID: "conflict-check", Type: "task", IsRequired: true},
				},
				AutoTransition: true,
				NextStage:      "discovery",
			},
			{
				Name:  "discovery",
				Order: 1,
				Requirements: []models.Requirement{
					{ID: "initial-disclosure", Type: "document"},
				},
				AllowedTransitions: []string{"trial", "closed"},
			},
			{
				Name:               "trial",
				Order:              2,
				AllowedTransitions: []string{"closed"},
			},
			{
				Name:    "closed",
				Order:   3,
				IsFinal: true,
			},
		},
	}
}

func lifecycleInput(entityID string) models.LifecycleInput {
	return models.LifecycleInput{
		EntityID: entityID,
		TenantID: "tenant-a",
		Template: litigationTemplate(),
	}
}

func completeReq(id string) events.CompleteRequirementSignal {
	return events.CompleteRequirementSignal{RequirementID: id, ActorID: "paralegal-1"}
}

func TestLifecycleAutoTransitionOnRequirements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-100"), Lifecycle)

	env.signal(runner, "s1", events.SignalCompleteRequirement, completeReq("intake-form"))
	env.signal(runner, "s2", events.SignalCompleteRequirement, completeReq("conflict-check"))

	waitForLifecycle(t, runner, func(s models.LifecycleStatus) bool {
		return s.CurrentStage == "discovery"
	})

	state := lifecycleState(t, runner)
	require.Len(t, state.CompletedRequirements, 2)
	assert.Equal(t, "intake-form", state.CompletedRequirements[0].RequirementID)
	assert.Equal(t, "intake", state.CompletedRequirements[0].Stage)

	// Two requirement events plus the auto transition.
	require.Len(t, state.Events, 3)
	assert.Equal(t, models.DecisionRequirementCompleted, state.Events[0].Kind)
	assert.Equal(t, models.DecisionTransition, state.Events[2].Kind)
	assert.Equal(t, "discovery", state.Events[2].Stage)

	assert.Equal(t, int32(2), env.callCount(activities.PersistRequirementProgress))
	assert.Equal(t, int32(1), env.callCount(activities.PersistStageTransition))
}

func TestLifecycleDuplicateRequirementIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-110"), Lifecycle)

	env.signal(runner, "s1", events.SignalCompleteRequirement, completeReq("intake-form"))
	env.signal(runner, "s2", events.SignalCompleteRequirement, completeReq("intake-form"))
	env.signal(runner, "s3", events.SignalCompleteRequirement, completeReq("no-such-requirement"))
	env.signal(runner, "s4", events.SignalCompleteRequirement, completeReq("conflict-check"))

	waitForLifecycle(t, runner, func(s models.LifecycleStatus) bool {
		return s.CurrentStage == "discovery"
	})

	state := lifecycleState(t, runner)
	require.Len(t, state.CompletedRequirements, 2)
	assert.Equal(t, int32(2), env.callCount(activities.PersistRequirementProgress))
}

func TestLifecycleDisallowedTransitionIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-120"), Lifecycle)

	// intake has no allowed transitions: the jump straight to trial is
	// dropped with a warning.
	env.signal(runner, "s1", events.SignalTransitionStage, events.TransitionStageSignal{
		StageID: "trial",
		ActorID: "attorney-1",
	})
	env.signal(runner, "s2", events.SignalCompleteRequirement, completeReq("intake-form"))
	env.signal(runner, "s3", events.SignalCompleteRequirement, completeReq("conflict-check"))

	waitForLifecycle(t, runner, func(s models.LifecycleStatus) bool {
		return s.CurrentStage == "discovery"
	})

	state := lifecycleState(t, runner)
	for _, event := range state.Events {
		if event.Kind == models.DecisionTransition {
			assert.Equal(t, "discovery", event.Stage)
		}
	}
	assert.Equal(t, int32(1), env.callCount(activities.PersistStageTransition))
}

func TestLifecycleRunsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-130"), Lifecycle)

	env.signal(runner, "s1", events.SignalCompleteRequirement, completeReq("intake-form"))
	env.signal(runner, "s2", events.SignalCompleteRequirement, completeReq("conflict-check"))
	env.signal(runner, "s3", events.SignalTransitionStage, events.TransitionStageSignal{
		StageID: "trial", ActorID: "attorney-1",
	})
	env.signal(runner, "s4", events.SignalTransitionStage, events.TransitionStageSignal{
		StageID: "closed", ActorID: "attorney-1", Notes: "settled",
	})
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	assert.Equal(t, models.InstanceStatusCompleted, snapshot.Status)

	state := lifecycleState(t, runner)
	assert.False(t, state.Running)
	assert.Equal(t, "closed", state.CurrentStage)

	assert.Equal(t, int32(3), env.callCount(activities.PersistStageTransition))
	assert.Equal(t, int32(1), env.callCount(activities.UpdateEntityStatus))
	assert.Equal(t, int32(1), env.callCount(activities.NotifyCompletion))
}

func TestLifecycleDeadlinesAndCourtDates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := env.clock.Now()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-140"), Lifecycle)

	env.signal(runner, "s1", events.SignalAddDeadline, events.AddDeadlineSignal{
		Title: "file answer",
		Date:  base.Add(20 * 24 * time.Hour),
	})
	env.signal(runner, "s2", events.SignalAddDeadline, events.AddDeadlineSignal{
		Title: "serve discovery requests",
		Date:  base.Add(35 * 24 * time.Hour),
	})
	env.signal(runner, "s3", events.SignalAddCourtDate, events.AddCourtDateSignal{
		Title:    "status conference",
		Date:     base.Add(40 * 24 * time.Hour),
		Location: "courtroom 4B",
	})

	waitForLifecycle(t, runner, func(s models.LifecycleStatus) bool {
		return len(s.Deadlines) == 2 && len(s.CourtDates) == 1
	})

	state := lifecycleState(t, runner)
	assert.Equal(t, "deadline-1", state.Deadlines[0].ID)
	assert.Equal(t, "deadline-2", state.Deadlines[1].ID)
	assert.Equal(t, "court-date-1", state.CourtDates[0].ID)
	assert.True(t, state.Deadlines[0].Due.Equal(base.Add(20*24*time.Hour)))
	assert.True(t, state.Deadlines[0].CreatedAt.Equal(base))

	assert.Equal(t, int32(3), env.callCount(activities.ScheduleReminder))
}

func TestLifecyclePauseResumeShiftsDates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := env.clock.Now()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-150"), Lifecycle)

	env.signal(runner, "s1", events.SignalAddDeadline, events.AddDeadlineSignal{
		Title: "past filing",
		Date:  base.Add(-24 * time.Hour),
	})
	env.signal(runner, "s2", events.SignalAddDeadline, events.AddDeadlineSignal{
		Title: "file answer",
		Date:  base.Add(5 * 24 * time.Hour),
	})
	env.signal(runner, "s3", events.SignalPause, events.PauseSignal{ActorID: "attorney-1", Reason: "client hold"})

	waitForLifecycle(t, runner, func(s models.LifecycleStatus) bool {
		return s.IsPaused
	})

	// Dropped while paused.
	env.signal(runner, "s4", events.SignalCompleteRequirement, completeReq("intake-form"))

	env.clock.Advance(10 * 24 * time.Hour)
	env.signal(runner, "s5", events.SignalResume, events.ResumeSignal{ActorID: "attorney-1"})

	waitForLifecycle(t, runner, func(s models.LifecycleStatus) bool {
		return !s.IsPaused
	})

	state := lifecycleState(t, runner)
	assert.Empty(t, state.CompletedRequirements)

	// The pending deadline slides by the paused duration, the past one does
	// not move.
	assert.True(t, state.Deadlines[0].Due.Equal(base.Add(-24*time.Hour)))
	assert.True(t, state.Deadlines[1].Due.Equal(base.Add(15*24*time.Hour)))
}

func TestLifecycleCancelCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runner := env.startInstance(ctx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-160"), Lifecycle)

	env.signal(runner, "s1", events.SignalCompleteRequirement, completeReq("intake-form"))
	env.signal(runner, "s2", events.SignalCancelCase, events.CancelSignal{
		Reason:  "client terminated engagement",
		ActorID: "attorney-1",
	})
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	assert.Equal(t, models.InstanceStatusCancelled, snapshot.Status)
	assert.Equal(t, "client terminated engagement", snapshot.CancelReason)

	state := lifecycleState(t, runner)
	assert.Equal(t, models.InstanceStatusCancelled, state.Status)
	require.Len(t, state.CompletedRequirements, 1)

	assert.Equal(t, int32(0), env.callCount(activities.UpdateEntityStatus))
	assert.Equal(t, int32(0), env.callCount(activities.NotifyCompletion))
}

func TestLifecycleCrashAndReplay(t *testing.T) {
	env := newTestEnv(t)

	runCtx, cancel := context.WithCancel(context.Background())

	runner := env.startInstance(runCtx, models.WorkflowTypeCaseLifecycle, lifecycleInput("case-170"), Lifecycle)

	env.signal(runner, "s1", events.SignalCompleteRequirement, completeReq("intake-form"))

	// log start, signal, now, persist progress.
	waitForHistoryLen(t, runner, 4)

	cancel()
	waitDone(t, runner)

	stored, err := env.store.CheckpointByID(context.Background(), runner.InstanceID())
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, stored.Status)

	persistsBefore := env.callCount(activities.PersistRequirementProgress)
	startsBefore := env.callCount(activities.LogWorkflowStart)

	restored := env.restoreInstance(context.Background(), runner.InstanceID(), Lifecycle)

	env.signal(restored, "s2", events.SignalCompleteRequirement, completeReq("conflict-check"))
	env.signal(restored, "s3", events.SignalTransitionStage, events.TransitionStageSignal{
		StageID: "closed", ActorID: "attorney-1",
	})
	waitDone(t, restored)

	snapshot := restored.Snapshot()
	assert.Equal(t, models.InstanceStatusCompleted, snapshot.Status)

	state := lifecycleState(t, restored)
	require.Len(t, state.CompletedRequirements, 2)

	// Replay rebuilt position from history without re-running anything.
	assert.Equal(t, startsBefore, env.callCount(activities.LogWorkflowStart))
	assert.Equal(t, persistsBefore+1, env.callCount(activities.PersistRequirementProgress))
}
