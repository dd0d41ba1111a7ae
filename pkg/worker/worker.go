// Package worker hosts workflow instances: it restores running checkpoints
// on startup, launches a runner per instance, and routes start commands and
// signals from the event bus to the right runner.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/eventbus"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/otelhelper"
	"github.com/jurisdesk/lexflow/pkg/persistence"
)

type Worker struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	workflows   *engine.WorkflowRegistry
	invoker     *activities.Invoker
	tracer      trace.Tracer
	clock       engine.Clock

	mu      sync.Mutex
	runners map[string]*engine.Runner
	runCtx  context.Context
}

type Option func(*Worker)

// WithTracer enables span emission around event handling.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) { w.tracer = tracer }
}

// WithClock overrides the runner clock, used by deterministic tests.
func WithClock(clock engine.Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

func NewWorker(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	workflows *engine.WorkflowRegistry,
	invoker *activities.Invoker,
	logger *slog.Logger,
	opts ...Option,
) *Worker {
	w := &Worker{
		id:          id,
		logger:      logger.With("module", "worker", "worker_id", id),
		persistence: store,
		eventBus:    eventBus,
		workflows:   workflows,
		invoker:     invoker,
		clock:       time.Now,
		runners:     make(map[string]*engine.Runner),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start restores every running instance by replay, subscribes to the bus,
// and blocks until ctx is cancelled. On cancellation in-flight runners
// suspend at their next checkpoint and are re-restored on the next start.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	w.runCtx = ctx
	w.mu.Unlock()

	if err := w.restore(ctx); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.InstanceStartRequestedEvent, w.handleStartRequested); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.SignalDeliveredEvent, w.handleSignalDelivered); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.Info("Shutting down worker, waiting for instances to suspend")
	w.drain()

	return nil
}

// restore reloads every running checkpoint and relaunches its runner. The
// workflow function replays recorded history first, so each instance resumes
// exactly where it suspended.
func (w *Worker) restore(ctx context.Context) error {
	checkpoints, err := w.persistence.RunningCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("list running checkpoints: %w", err)
	}

	for _, checkpoint := range checkpoints {
		if err := w.launch(checkpoint); err != nil {
			w.logger.ErrorContext(ctx, "Failed to restore instance",
				"instance_id", checkpoint.InstanceID, "error", err)

			continue
		}

		w.logger.InfoContext(ctx, "Restored instance",
			"instance_id", checkpoint.InstanceID, "history_length", len(checkpoint.History))
	}

	return nil
}

// launch starts a runner for a checkpoint under the worker's run context and
// removes it from the routing table once it terminates.
func (w *Worker) launch(checkpoint *models.Checkpoint) error {
	fn, err := w.workflows.Lookup(checkpoint.WorkflowType)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, running := w.runners[checkpoint.InstanceID]; running {
		return nil
	}

	runner := engine.NewRunner(checkpoint, w.persistence, w.invoker, w.logger,
		engine.WithPublisher(w.eventBus),
		engine.WithWorkerID(w.id),
		engine.WithClock(w.clock),
	)
	w.runners[checkpoint.InstanceID] = runner

	runCtx := w.runCtx
	runner.Start(runCtx, fn)

	go func() {
		<-runner.Done()

		w.mu.Lock()
		delete(w.runners, runner.InstanceID())
		w.mu.Unlock()
	}()

	return nil
}

func (w *Worker) handleStartRequested(ctx context.Context, event any) (err error) {
	startEvent, ok := event.(*events.InstanceStartRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for InstanceStartRequested")

		return nil
	}

	logger := w.logger.With(
		"instance_id", startEvent.InstanceID,
		"workflow_type", startEvent.WorkflowType,
		"event_id", startEvent.ID,
	)

	if w.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, w.tracer, "worker.start_instance",
			attribute.String(otelhelper.InstanceIDKey, startEvent.InstanceID),
			attribute.String(otelhelper.WorkflowTypeKey, startEvent.WorkflowType),
			attribute.String(otelhelper.WorkerIDKey, w.id),
		)

		defer func() {
			if err != nil {
				otelhelper.SetError(span, err,
					attribute.String(otelhelper.EventIDKey, startEvent.ID))
			}

			span.End()
		}()
	}

	existing, err := w.persistence.CheckpointByID(ctx, startEvent.InstanceID)
	if err != nil && !persistence.IsInstanceNotFound(err) {
		return fmt.Errorf("check existing checkpoint: %w", err)
	}

	if existing != nil {
		// Duplicate start request; deterministic IDs make this a no-op.
		logger.InfoContext(ctx, "Instance already exists, ignoring start request",
			"status", existing.Status)

		return w.launchIfRunning(existing)
	}

	now := w.clock().UTC()
	checkpoint := &models.Checkpoint{
		InstanceID:   startEvent.InstanceID,
		WorkflowType: startEvent.WorkflowType,
		EntityID:     startEvent.EntityID,
		TenantID:     startEvent.TenantID,
		Status:       models.InstanceStatusRunning,
		Input:        json.RawMessage(startEvent.Input),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := w.persistence.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("save initial checkpoint: %w", err)
	}

	logger.InfoContext(ctx, "Launching instance")

	return w.launch(checkpoint)
}

func (w *Worker) handleSignalDelivered(ctx context.Context, event any) (err error) {
	signalEvent, ok := event.(*events.SignalDelivered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for SignalDelivered")

		return nil
	}

	logger := w.logger.With(
		"instance_id", signalEvent.InstanceID,
		"signal", signalEvent.Signal.Name,
		"event_id", signalEvent.ID,
	)

	if w.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, w.tracer, "worker.deliver_signal",
			attribute.String(otelhelper.InstanceIDKey, signalEvent.InstanceID),
			attribute.String(otelhelper.SignalNameKey, signalEvent.Signal.Name),
			attribute.String(otelhelper.WorkerIDKey, w.id),
		)

		defer func() {
			if err != nil {
				otelhelper.SetError(span, err,
					attribute.String(otelhelper.EventIDKey, signalEvent.ID))
			}

			span.End()
		}()
	}

	runner, ok := w.runner(signalEvent.InstanceID)
	if !ok {
		// The instance may have checkpointed on a previous worker process.
		// Relaunch it here before delivering.
		checkpoint, err := w.persistence.CheckpointByID(ctx, signalEvent.InstanceID)
		if err != nil {
			if persistence.IsInstanceNotFound(err) {
				logger.WarnContext(ctx, "Dropping signal for unknown instance")

				return nil
			}

			return fmt.Errorf("load instance for signal: %w", err)
		}

		if checkpoint.Status.IsTerminal() {
			logger.InfoContext(ctx, "Dropping signal for terminal instance",
				"status", checkpoint.Status)

			return nil
		}

		if err := w.launch(checkpoint); err != nil {
			return fmt.Errorf("relaunch instance for signal: %w", err)
		}

		runner, ok = w.runner(signalEvent.InstanceID)
		if !ok {
			logger.WarnContext(ctx, "Instance terminated before signal delivery")

			return nil
		}
	}

	if err := runner.Deliver(ctx, signalEvent.Signal); err != nil {
		if errors.Is(err, engine.ErrInstanceTerminal) {
			logger.InfoContext(ctx, "Dropping signal for terminal instance")

			return nil
		}

		return fmt.Errorf("deliver signal: %w", err)
	}

	logger.InfoContext(ctx, "Signal delivered")

	return nil
}

func (w *Worker) launchIfRunning(checkpoint *models.Checkpoint) error {
	if checkpoint.Status.IsTerminal() {
		return nil
	}

	return w.launch(checkpoint)
}

func (w *Worker) runner(instanceID string) (*engine.Runner, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	runner, ok := w.runners[instanceID]

	return runner, ok
}

// RunningInstances reports the IDs currently hosted by this worker.
func (w *Worker) RunningInstances() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.runners))
	for id := range w.runners {
		ids = append(ids, id)
	}

	return ids
}

// drain waits briefly for every runner to observe cancellation and persist
// its suspension checkpoint.
func (w *Worker) drain() {
	deadline := time.After(10 * time.Second)

	for {
		w.mu.Lock()
		remaining := len(w.runners)
		w.mu.Unlock()

		if remaining == 0 {
			return
		}

		select {
		case <-deadline:
			w.logger.Warn("Shutdown drain timed out", "remaining", remaining)

			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}
