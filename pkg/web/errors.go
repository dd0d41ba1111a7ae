package web

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/jurisdesk/lexflow/pkg/client"
	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/template"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleClientError maps client facade errors onto problem responses.
func handleClientError(c fiber.Ctx, err error) error {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErrs),
		errors.Is(err, template.ErrInvalidTemplate),
		errors.Is(err, client.ErrUnknownSignal),
		errors.Is(err, client.ErrInvalidSignalPayload):
		return badRequest(c, err.Error())

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "instance not found")

	case errors.Is(err, engine.ErrInstanceTerminal):
		return conflict(c, "instance already reached a terminal status")

	default:
		return internalError(c, err)
	}
}
