package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/eventbus"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence"
)

// Clock abstracts time for deterministic tests. Workflow code never calls
// it directly; recorded values flow through Context.Now.
type Clock func() time.Time

// Runner owns one workflow instance: its checkpoint, its signal queue and
// the single logical thread executing its state machine. Instances are fully
// isolated from one another; nothing here is shared across runners.
type Runner struct {
	checkpoint *models.Checkpoint
	store      persistence.Persistence
	invoker    *activities.Invoker
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
	clock      Clock
	workerID   string

	mu   chan struct{} // binary semaphore; held across checkpoint mutation + save
	wake chan struct{}
	done chan struct{}
}

type RunnerOption func(*Runner)

func WithClock(clock Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

func WithPublisher(publisher eventbus.EventPublisher) RunnerOption {
	return func(r *Runner) { r.publisher = publisher }
}

func WithWorkerID(workerID string) RunnerOption {
	return func(r *Runner) { r.workerID = workerID }
}

func NewRunner(checkpoint *models.Checkpoint, store persistence.Persistence, invoker *activities.Invoker, logger *slog.Logger, opts ...RunnerOption) *Runner {
	runner := &Runner{
		checkpoint: checkpoint,
		store:      store,
		invoker:    invoker,
		logger: logger.With(
			"module", "engine",
			"instance_id", checkpoint.InstanceID,
			"workflow_type", checkpoint.WorkflowType,
		),
		clock: time.Now,
		mu:    make(chan struct{}, 1),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

func (r *Runner) lock()   { r.mu <- struct{}{} }
func (r *Runner) unlock() { <-r.mu }

// InstanceID returns the deterministic identifier of the owned instance.
func (r *Runner) InstanceID() string {
	return r.checkpoint.InstanceID
}

// Done is closed once the logical thread has stopped, either at a terminal
// status or because the executor is shutting down.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Snapshot returns a copy of the current checkpoint for queries. Queries are
// side-effect-free and always see the best currently known state.
func (r *Runner) Snapshot() models.Checkpoint {
	r.lock()
	defer r.unlock()

	return copyCheckpoint(r.checkpoint)
}

func copyCheckpoint(cp *models.Checkpoint) models.Checkpoint {
	snapshot := *cp
	snapshot.History = append([]models.Entry(nil), cp.History...)
	snapshot.PendingSignals = append([]models.SignalEnvelope(nil), cp.PendingSignals...)

	return snapshot
}

// Deliver enqueues a signal for the instance. Safe to call at any point:
// the envelope is made durable before the logical thread is woken, and
// signals arriving after a terminal status are dropped.
func (r *Runner) Deliver(ctx context.Context, envelope models.SignalEnvelope) error {
	r.lock()
	defer r.unlock()

	if r.checkpoint.Status.IsTerminal() {
		r.logger.WarnContext(ctx, "Dropping signal for terminal instance", "signal", envelope.Name)

		return ErrInstanceTerminal
	}

	envelope.DeliveredAt = r.clock()
	r.checkpoint.PendingSignals = append(r.checkpoint.PendingSignals, envelope)

	if err := r.saveLocked(ctx); err != nil {
		// Roll the queue back so a redelivery is not observed twice.
		r.checkpoint.PendingSignals = r.checkpoint.PendingSignals[:len(r.checkpoint.PendingSignals)-1]

		return err
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}

	return nil
}

// saveLocked persists the checkpoint; callers hold the runner lock.
func (r *Runner) saveLocked(ctx context.Context) error {
	r.checkpoint.UpdatedAt = r.clock()

	if err := r.store.SaveCheckpoint(ctx, r.checkpoint); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist checkpoint", "error", err)

		return errors.Join(ErrCheckpointFailed, err)
	}

	return nil
}

// Start launches the logical thread. A restored instance replays its
// recorded history first, so activities are not re-executed and timers are
// not re-armed for decisions already made.
func (r *Runner) Start(ctx context.Context, fn WorkflowFunc) {
	fresh := len(r.checkpoint.History) == 0

	go func() {
		defer close(r.done)

		if fresh {
			r.publishStarted(ctx)
		} else {
			r.logger.InfoContext(ctx, "Replaying instance history", "entries", len(r.checkpoint.History))
		}

		wctx := &Context{ctx: ctx, runner: r}

		status, err := fn(wctx)

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, ErrCheckpointFailed):
			// Executor shutdown or a store outage: leave the checkpoint as
			// the last durable state and let a restart replay it.
			r.logger.WarnContext(ctx, "Instance suspended without terminal status", "error", err)

			return
		default:
			r.logger.ErrorContext(ctx, "Instance failed", "error", err)

			status = models.InstanceStatusFailed
		}

		r.finish(ctx, status, err)
	}()
}

func (r *Runner) finish(ctx context.Context, status models.InstanceStatus, runErr error) {
	r.lock()

	r.checkpoint.Status = status
	if runErr != nil {
		r.checkpoint.FailureReason = runErr.Error()
	}

	if err := r.saveLocked(ctx); err != nil {
		r.unlock()

		return
	}

	final := copyCheckpoint(r.checkpoint)
	r.unlock()

	r.logger.InfoContext(ctx, "Instance reached terminal status", "status", status)
	r.publishTerminal(ctx, final)
}

func (r *Runner) publishStarted(ctx context.Context) {
	if r.publisher == nil {
		return
	}

	event := events.InstanceStarted{
		BaseEvent:    events.NewBaseEvent(events.InstanceStartedEvent, r.checkpoint.InstanceID),
		WorkflowType: r.checkpoint.WorkflowType,
		EntityID:     r.checkpoint.EntityID,
	}
	event.ID = r.publisher.GenerateID()
	event.WorkerID = r.workerID

	if err := r.publisher.Publish(ctx, r.checkpoint.InstanceID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish instance started event", "error", err)
	}
}

func (r *Runner) publishTerminal(ctx context.Context, final models.Checkpoint) {
	if r.publisher == nil {
		return
	}

	var event eventbus.Event

	base := events.NewBaseEvent("", final.InstanceID)
	base.ID = r.publisher.GenerateID()
	base.WorkerID = r.workerID

	switch final.Status {
	case models.InstanceStatusFailed:
		base.Type = events.InstanceFailedEvent
		event = events.InstanceFailed{BaseEvent: base, Error: final.FailureReason, State: final.State}
	case models.InstanceStatusCancelled:
		base.Type = events.InstanceCancelledEvent
		event = events.InstanceCancelled{BaseEvent: base, Reason: final.CancelReason, State: final.State}
	default:
		base.Type = events.InstanceCompletedEvent
		event = events.InstanceCompleted{BaseEvent: base, Status: final.Status, State: final.State}
	}

	if err := r.publisher.Publish(ctx, final.InstanceID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish terminal event", "error", err)
	}
}
