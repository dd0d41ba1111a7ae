package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/jurisdesk/lexflow/pkg/cmd"
	"github.com/jurisdesk/lexflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "lexflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that hosts workflow instances",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Checkpoint store URL (file://, redis://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "reminders",
				Usage:   "Run the deadline reminder scheduler in this process",
				Value:   true,
				Sources: cli.EnvVars("REMINDERS_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "reminder-cron",
				Usage:   "Cron expression for the reminder sweep",
				Value:   "",
				Sources: cli.EnvVars("REMINDER_CRON"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("lexflow-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing lexflow worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "lexflow-worker", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			manager, err := NewWorkerManager(ctx, workerID, store, eventBus, logger, workerConfig{
				Reminders:    command.Bool("reminders"),
				ReminderCron: command.String("reminder-cron"),
				Tracing:      command.Bool("tracing"),
			})
			if err != nil {
				return err
			}

			if err := manager.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
