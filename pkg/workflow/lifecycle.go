package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/policy"
)

var lifecycleSignals = []string{
	events.SignalCompleteRequirement,
	events.SignalTransitionStage,
	events.SignalAddDeadline,
	events.SignalAddCourtDate,
	events.SignalPause,
	events.SignalResume,
	events.SignalCancelCase,
}

// lifecycleRun holds the mutable execution state of one case lifecycle
// instance while its signal loop runs.
type lifecycleRun struct {
	wctx     *engine.Context
	input    models.LifecycleInput
	rc       activities.RequestContext
	current  models.Stage
	state    *models.LifecycleStatus
	paused   bool
	pausedAt time.Time
}

// Lifecycle runs the signal-driven case lifecycle machine. The instance sits
// suspended until a signal arrives, applies it, checkpoints, and suspends
// again; it terminates when a final stage is reached or the case is
// cancelled.
func Lifecycle(wctx *engine.Context) (models.InstanceStatus, error) {
	var input models.LifecycleInput
	if err := json.Unmarshal(wctx.Input(), &input); err != nil {
		return models.InstanceStatusFailed, fmt.Errorf("decode lifecycle input: %w", err)
	}

	initial, ok := input.Template.InitialStage()
	if !ok {
		return models.InstanceStatusFailed, fmt.Errorf("template %q has no initial stage", input.Template.Name)
	}

	run := &lifecycleRun{
		wctx:    wctx,
		input:   input,
		rc:      activities.RequestContext{TenantID: wctx.TenantID()},
		current: initial,
		state: &models.LifecycleStatus{
			Running:               true,
			CurrentStage:          initial.Name,
			CompletedRequirements: []models.RequirementProgress{},
			Deadlines:             []models.Deadline{},
			CourtDates:            []models.CourtDate{},
			Events:                []models.Decision{},
			Status:                models.InstanceStatusRunning,
		},
	}

	if err := wctx.SetState(run.state); err != nil {
		return models.InstanceStatusFailed, err
	}

	err := wctx.ExecuteActivity(activities.LogWorkflowStart, policy.DataLayerActivityOptions(), run.rc,
		activities.LogWorkflowStartInput{
			InstanceID:   wctx.InstanceID(),
			WorkflowType: models.WorkflowTypeCaseLifecycle,
			EntityID:     input.EntityID,
		}, nil)
	if err := nonCritical(wctx, err, activities.LogWorkflowStart); err != nil {
		return models.InstanceStatusFailed, err
	}

	for !run.current.IsFinal {
		signal, _, err := wctx.AwaitSignal(0, lifecycleSignals...)
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		terminal, status, err := run.apply(signal)
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		if terminal {
			return status, nil
		}

		if err := wctx.SetState(run.state); err != nil {
			return models.InstanceStatusFailed, err
		}
	}

	return run.finish()
}

// apply dispatches one signal. A true terminal flag means the instance is
// done with the returned status (cancellation); reaching a final stage is
// detected by the caller's loop condition instead.
func (r *lifecycleRun) apply(signal *models.SignalEnvelope) (bool, models.InstanceStatus, error) {
	switch signal.Name {
	case events.SignalCancelCase:
		status, err := r.cancel(signal.Payload)

		return true, status, err

	case events.SignalPause:
		return false, "", r.pause()

	case events.SignalResume:
		return false, "", r.resume()
	}

	// Everything below mutates case progress and is held off while paused.
	// Dropping rather than queueing keeps pause semantics simple: senders
	// observe is_paused via the status query.
	if r.paused {
		r.wctx.Logger().Warn("Ignoring signal while paused",
			"signal", signal.Name, "instance_id", r.wctx.InstanceID())

		return false, "", nil
	}

	switch signal.Name {
	case events.SignalCompleteRequirement:
		return false, "", r.completeRequirement(signal.Payload)
	case events.SignalTransitionStage:
		return false, "", r.transitionStage(signal.Payload)
	case events.SignalAddDeadline:
		return false, "", r.addDeadline(signal.Payload)
	case events.SignalAddCourtDate:
		return false, "", r.addCourtDate(signal.Payload)
	}

	return false, "", nil
}

func (r *lifecycleRun) cancel(payload json.RawMessage) (models.InstanceStatus, error) {
	var cancel events.CancelSignal
	if err := json.Unmarshal(payload, &cancel); err != nil {
		return models.InstanceStatusFailed, fmt.Errorf("decode cancel signal: %w", err)
	}

	r.wctx.SetCancelReason(cancel.Reason)

	r.state.Status = models.InstanceStatusCancelled
	r.state.Running = false
	r.state.CancelReason = cancel.Reason

	if err := r.wctx.SetState(r.state); err != nil {
		return models.InstanceStatusFailed, err
	}

	return models.InstanceStatusCancelled, nil
}

func (r *lifecycleRun) pause() error {
	if r.paused {
		return nil
	}

	now, err := r.wctx.Now()
	if err != nil {
		return err
	}

	r.paused = true
	r.pausedAt = now
	r.state.IsPaused = true

	return nil
}

// resume clears the pause and shifts every deadline and court date still
// ahead of the pause point forward by the paused duration, so a case paused
// for ten days sees its pending dates land ten days later.
func (r *lifecycleRun) resume() error {
	if !r.paused {
		return nil
	}

	now, err := r.wctx.Now()
	if err != nil {
		return err
	}

	shift := now.Sub(r.pausedAt)

	for i := range r.state.Deadlines {
		if r.state.Deadlines[i].Due.After(r.pausedAt) {
			r.state.Deadlines[i].Due = r.state.Deadlines[i].Due.Add(shift)
		}
	}

	for i := range r.state.CourtDates {
		if r.state.CourtDates[i].Date.After(r.pausedAt) {
			r.state.CourtDates[i].Date = r.state.CourtDates[i].Date.Add(shift)
		}
	}

	r.paused = false
	r.state.IsPaused = false

	return nil
}

func (r *lifecycleRun) completeRequirement(payload json.RawMessage) error {
	var signal events.CompleteRequirementSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return fmt.Errorf("decode completeRequirement signal: %w", err)
	}

	requirement, ok := stageRequirement(r.current, signal.RequirementID)
	if !ok {
		r.wctx.Logger().Warn("Requirement not defined in current stage",
			"requirement_id", signal.RequirementID, "stage", r.current.Name)

		return nil
	}

	if r.requirementCompleted(r.current.Name, requirement.ID) {
		return nil
	}

	now, err := r.wctx.Now()
	if err != nil {
		return err
	}

	progress := models.RequirementProgress{
		RequirementID: requirement.ID,
		Stage:         r.current.Name,
		CompletedBy:   signal.ActorID,
		CompletedAt:   now,
		Metadata:      signal.Metadata,
	}

	r.state.CompletedRequirements = append(r.state.CompletedRequirements, progress)
	r.state.Events = append(r.state.Events, models.Decision{
		Stage:     r.current.Name,
		Kind:      models.DecisionRequirementCompleted,
		ActorID:   signal.ActorID,
		Comment:   requirement.ID,
		Timestamp: now,
	})

	err = r.wctx.ExecuteActivity(activities.PersistRequirementProgress, policy.DataLayerActivityOptions(), r.rc,
		activities.PersistRequirementProgressInput{
			EntityID: r.input.EntityID,
			Progress: progress,
		}, nil)
	if err != nil {
		return fmt.Errorf("persist requirement progress: %w", err)
	}

	return r.autoTransition()
}

// autoTransition follows auto transition edges while the current stage has
// every required requirement complete. Chained auto stages collapse in a
// single pass.
func (r *lifecycleRun) autoTransition() error {
	for r.current.AutoTransition && r.current.NextStage != "" && !r.current.IsFinal {
		if !r.requiredComplete(r.current) {
			return nil
		}

		next, ok := r.input.Template.StageByName(r.current.NextStage)
		if !ok {
			return fmt.Errorf("auto transition target %q not in template %q",
				r.current.NextStage, r.input.Template.Name)
		}

		if err := r.moveTo(next, "", "auto transition"); err != nil {
			return err
		}
	}

	return nil
}

func (r *lifecycleRun) transitionStage(payload json.RawMessage) error {
	var signal events.TransitionStageSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return fmt.Errorf("decode transitionStage signal: %w", err)
	}

	if !transitionAllowed(r.current, signal.StageID) {
		r.wctx.Logger().Warn("Transition not allowed from current stage",
			"from", r.current.Name, "to", signal.StageID)

		return nil
	}

	next, ok := r.input.Template.StageByName(signal.StageID)
	if !ok {
		r.wctx.Logger().Warn("Transition target not in template",
			"to", signal.StageID, "template", r.input.Template.Name)

		return nil
	}

	if err := r.moveTo(next, signal.ActorID, signal.Notes); err != nil {
		return err
	}

	return r.autoTransition()
}

// moveTo persists the stage change, appends the transition event, and makes
// the target current.
func (r *lifecycleRun) moveTo(next models.Stage, actorID, notes string) error {
	err := r.wctx.ExecuteActivity(activities.PersistStageTransition, policy.DataLayerActivityOptions(), r.rc,
		activities.PersistStageTransitionInput{
			EntityID:  r.input.EntityID,
			FromStage: r.current.Name,
			ToStage:   next.Name,
			Notes:     notes,
		}, nil)
	if err != nil {
		return fmt.Errorf("persist stage transition: %w", err)
	}

	now, err := r.wctx.Now()
	if err != nil {
		return err
	}

	r.state.Events = append(r.state.Events, models.Decision{
		Stage:     next.Name,
		Kind:      models.DecisionTransition,
		ActorID:   actorID,
		Comment:   notes,
		Timestamp: now,
	})

	r.current = next
	r.state.CurrentStage = next.Name

	return nil
}

func (r *lifecycleRun) addDeadline(payload json.RawMessage) error {
	var signal events.AddDeadlineSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return fmt.Errorf("decode addDeadline signal: %w", err)
	}

	now, err := r.wctx.Now()
	if err != nil {
		return err
	}

	deadline := models.Deadline{
		ID:          fmt.Sprintf("deadline-%d", len(r.state.Deadlines)+1),
		Title:       signal.Title,
		Due:         signal.Date,
		Description: signal.Description,
		CreatedAt:   now,
	}
	r.state.Deadlines = append(r.state.Deadlines, deadline)

	err = r.wctx.ExecuteActivity(activities.ScheduleReminder, policy.ExternalAPIActivityOptions(), r.rc,
		activities.ScheduleReminderInput{
			EntityID: r.input.EntityID,
			Title:    deadline.Title,
			Due:      deadline.Due,
			Kind:     "deadline",
		}, nil)

	return nonCritical(r.wctx, err, activities.ScheduleReminder)
}

func (r *lifecycleRun) addCourtDate(payload json.RawMessage) error {
	var signal events.AddCourtDateSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return fmt.Errorf("decode addCourtDate signal: %w", err)
	}

	now, err := r.wctx.Now()
	if err != nil {
		return err
	}

	courtDate := models.CourtDate{
		ID:        fmt.Sprintf("court-date-%d", len(r.state.CourtDates)+1),
		Title:     signal.Title,
		Date:      signal.Date,
		Location:  signal.Location,
		Notes:     signal.Notes,
		CreatedAt: now,
	}
	r.state.CourtDates = append(r.state.CourtDates, courtDate)

	err = r.wctx.ExecuteActivity(activities.ScheduleReminder, policy.ExternalAPIActivityOptions(), r.rc,
		activities.ScheduleReminderInput{
			EntityID: r.input.EntityID,
			Title:    courtDate.Title,
			Due:      courtDate.Date,
			Kind:     "court-date",
		}, nil)

	return nonCritical(r.wctx, err, activities.ScheduleReminder)
}

func (r *lifecycleRun) finish() (models.InstanceStatus, error) {
	r.state.Status = models.InstanceStatusCompleted
	r.state.Running = false

	if err := r.wctx.SetState(r.state); err != nil {
		return models.InstanceStatusFailed, err
	}

	err := r.wctx.ExecuteActivity(activities.UpdateEntityStatus, policy.DataLayerActivityOptions(), r.rc,
		activities.UpdateEntityStatusInput{
			EntityID: r.input.EntityID,
			Status:   r.current.Name,
		}, nil)
	if err != nil {
		return models.InstanceStatusFailed, fmt.Errorf("update entity status: %w", err)
	}

	err = r.wctx.ExecuteActivity(activities.NotifyCompletion, policy.ExternalAPIActivityOptions(), r.rc,
		activities.NotifyCompletionInput{
			EntityID: r.input.EntityID,
			Status:   string(models.InstanceStatusCompleted),
		}, nil)
	if err := nonCritical(r.wctx, err, activities.NotifyCompletion); err != nil {
		return models.InstanceStatusFailed, err
	}

	return models.InstanceStatusCompleted, nil
}

func (r *lifecycleRun) requirementCompleted(stage, requirementID string) bool {
	for _, p := range r.state.CompletedRequirements {
		if p.Stage == stage && p.RequirementID == requirementID {
			return true
		}
	}

	return false
}

func (r *lifecycleRun) requiredComplete(stage models.Stage) bool {
	for _, req := range stage.Requirements {
		if req.IsRequired && !r.requirementCompleted(stage.Name, req.ID) {
			return false
		}
	}

	return true
}

func stageRequirement(stage models.Stage, id string) (models.Requirement, bool) {
	for _, req := range stage.Requirements {
		if req.ID == id {
			return req, true
		}
	}

	return models.Requirement{}, false
}

func transitionAllowed(from models.Stage, to string) bool {
	for _, name := range from.AllowedTransitions {
		if name == to {
			return true
		}
	}

	return false
}
