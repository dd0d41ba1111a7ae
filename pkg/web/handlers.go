package web

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/jurisdesk/lexflow/pkg/client"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
)

type APIHandlers struct {
	client    *client.Client
	validator *validator.Validate
}

func NewAPIHandlers(workflowClient *client.Client, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		client:    workflowClient,
		validator: validate,
	}
}

func (h *APIHandlers) StartApproval(c fiber.Ctx) error {
	var req StartApprovalRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid request: "+err.Error())
	}

	input, err := req.ToInput()
	if err != nil {
		return badRequest(c, "Invalid decision_wait: "+err.Error())
	}

	instanceID, err := h.client.StartApproval(c.Context(), input)
	if err != nil {
		return handleClientError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartResponse{InstanceID: instanceID})
}

func (h *APIHandlers) GetApprovalStatus(c fiber.Ctx) error {
	entityID := c.Params("entityId")
	if entityID == "" {
		return badRequest(c, "Entity ID is required")
	}

	status, err := h.client.GetApprovalStatus(c.Context(), entityID)
	if err != nil {
		return handleClientError(c, err)
	}

	return c.JSON(status)
}

// SubmitDecision delivers an approvalDecision signal for the entity's
// approval instance.
func (h *APIHandlers) SubmitDecision(c fiber.Ctx) error {
	return h.signalApproval(c, events.SignalApprovalDecision)
}

// CancelApproval delivers a cancelApproval signal.
func (h *APIHandlers) CancelApproval(c fiber.Ctx) error {
	return h.signalApproval(c, events.SignalCancelApproval)
}

func (h *APIHandlers) signalApproval(c fiber.Ctx, name string) error {
	entityID := c.Params("entityId")
	if entityID == "" {
		return badRequest(c, "Entity ID is required")
	}

	instanceID := models.InstanceID(models.WorkflowTypeApproval, entityID)

	if err := h.client.Signal(c.Context(), instanceID, name, c.Body()); err != nil {
		return handleClientError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) StartLifecycle(c fiber.Ctx) error {
	var req StartLifecycleRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid request: "+err.Error())
	}

	instanceID, err := h.client.StartLifecycle(c.Context(), models.LifecycleInput{
		EntityID: req.EntityID,
		TenantID: req.TenantID,
		Template: req.Template,
	})
	if err != nil {
		return handleClientError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartResponse{InstanceID: instanceID})
}

func (h *APIHandlers) GetLifecycleStatus(c fiber.Ctx) error {
	entityID := c.Params("entityId")
	if entityID == "" {
		return badRequest(c, "Entity ID is required")
	}

	status, err := h.client.GetLifecycleStatus(c.Context(), entityID)
	if err != nil {
		return handleClientError(c, err)
	}

	return c.JSON(status)
}

// SignalCase delivers a named lifecycle signal. The signal name comes from
// the path and the raw body is validated by the client facade.
func (h *APIHandlers) SignalCase(c fiber.Ctx) error {
	entityID := c.Params("entityId")
	if entityID == "" {
		return badRequest(c, "Entity ID is required")
	}

	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Signal name is required")
	}

	instanceID := models.InstanceID(models.WorkflowTypeCaseLifecycle, entityID)

	if err := h.client.Signal(c.Context(), instanceID, name, c.Body()); err != nil {
		return handleClientError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	message, healthy := h.client.HealthCheck(c.Context())
	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(HealthResponse{Status: "unhealthy", Message: message})
	}

	return c.JSON(HealthResponse{Status: "healthy"})
}
