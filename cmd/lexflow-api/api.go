// Package main provides the lexflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/jurisdesk/lexflow/pkg/client"
	"github.com/jurisdesk/lexflow/pkg/eventbus"
	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowClient := client.NewClient(a.persistence, a.eventBus, a.logger)
	handlers := web.NewAPIHandlers(workflowClient, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Lexflow API")
	})

	approvals := app.Group("/approvals")
	approvals.Post("/", handlers.StartApproval)
	approvals.Get("/:entityId", handlers.GetApprovalStatus)
	approvals.Post("/:entityId/decision", handlers.SubmitDecision)
	approvals.Post("/:entityId/cancel", handlers.CancelApproval)

	cases := app.Group("/cases")
	cases.Post("/", handlers.StartLifecycle)
	cases.Get("/:entityId", handlers.GetLifecycleStatus)
	cases.Post("/:entityId/signals/:name", handlers.SignalCase)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
