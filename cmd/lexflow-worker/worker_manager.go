package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/activities/logged"
	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/eventbus"
	"github.com/jurisdesk/lexflow/pkg/otelhelper"
	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/reminder"
	"github.com/jurisdesk/lexflow/pkg/worker"
	"github.com/jurisdesk/lexflow/pkg/workflow"
)

type workerConfig struct {
	Reminders    bool
	ReminderCron string
	Tracing      bool
}

// WorkerManager assembles the activity registry, workflow registry, worker,
// and optional reminder scheduler, and runs them until interrupted.
type WorkerManager struct {
	logger    *slog.Logger
	worker    *worker.Worker
	reminders *reminder.Scheduler
}

func NewWorkerManager(
	ctx context.Context,
	workerID string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	config workerConfig,
) (*WorkerManager, error) {
	activityRegistry := activities.NewRegistry(logger)

	impl := logged.New(logger)
	if err := activities.RegisterApproval(activityRegistry, impl); err != nil {
		return nil, err
	}

	if err := activities.RegisterLifecycle(activityRegistry, impl); err != nil {
		return nil, err
	}

	workflowRegistry := engine.NewWorkflowRegistry()
	if err := workflow.Register(workflowRegistry); err != nil {
		return nil, err
	}

	invoker := activities.NewInvoker(activityRegistry, logger, activities.DefaultMaxConcurrent)

	var opts []worker.Option

	if config.Tracing {
		tracer, err := otelhelper.NewTracer(ctx, "lexflow-worker")
		if err != nil {
			return nil, err
		}

		opts = append(opts, worker.WithTracer(tracer))
	}

	manager := &WorkerManager{
		logger: logger,
		worker: worker.NewWorker(workerID, store, eventBus, workflowRegistry, invoker, logger, opts...),
	}

	if config.Reminders {
		var reminderOpts []reminder.Option
		if config.ReminderCron != "" {
			reminderOpts = append(reminderOpts, reminder.WithCronExpr(config.ReminderCron))
		}

		manager.reminders = reminder.NewScheduler(store, invoker, logger, reminderOpts...)
	}

	return manager, nil
}

// Start runs the worker until SIGINT/SIGTERM, then shuts down the reminder
// scheduler and lets in-flight instances suspend at their next checkpoint.
func (m *WorkerManager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.reminders != nil {
		if err := m.reminders.Start(runCtx); err != nil {
			return err
		}

		defer m.reminders.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- m.worker.Start(runCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
		m.logger.Info("Shutting down worker...")
		cancel()

		return <-errCh
	}
}
