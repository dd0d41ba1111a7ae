// Package client is the facade the request layer uses to start, signal, and
// query workflow instances. It validates payloads at the boundary and talks
// to the workers exclusively through the event bus; it never executes
// workflow code itself.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/eventbus"
	"github.com/jurisdesk/lexflow/pkg/events"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/template"
)

var (
	// ErrUnknownSignal is returned for signal names no workflow understands.
	ErrUnknownSignal = errors.New("unknown signal name")
	// ErrInvalidSignalPayload is returned when a signal payload fails to
	// decode or validate.
	ErrInvalidSignalPayload = errors.New("invalid signal payload")
)

type Client struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewClient(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Client {
	return &Client{
		persistence: store,
		publisher:   publisher,
		validator:   validator.New(),
		logger:      logger.With("module", "client"),
	}
}

// StartApproval starts an invoice approval instance. Instance IDs are
// deterministic (workflow type plus entity ID), so starting the same entity
// twice returns the existing instance instead of spawning a duplicate.
func (c *Client) StartApproval(ctx context.Context, input models.ApprovalInput) (string, error) {
	if err := c.validator.Struct(input); err != nil {
		return "", fmt.Errorf("validate approval input: %w", err)
	}

	return c.start(ctx, models.WorkflowTypeApproval, input.EntityID, input.TenantID, input)
}

// StartLifecycle starts a case lifecycle instance after validating its stage
// template graph.
func (c *Client) StartLifecycle(ctx context.Context, input models.LifecycleInput) (string, error) {
	if err := c.validator.Struct(input); err != nil {
		return "", fmt.Errorf("validate lifecycle input: %w", err)
	}

	if err := template.Validate(input.Template); err != nil {
		return "", err
	}

	return c.start(ctx, models.WorkflowTypeCaseLifecycle, input.EntityID, input.TenantID, input)
}

func (c *Client) start(ctx context.Context, workflowType, entityID, tenantID string, input any) (string, error) {
	instanceID := models.InstanceID(workflowType, entityID)

	existing, err := c.persistence.CheckpointByID(ctx, instanceID)
	if err != nil && !persistence.IsInstanceNotFound(err) {
		return "", fmt.Errorf("check existing instance: %w", err)
	}

	if existing != nil {
		c.logger.InfoContext(ctx, "Start request deduplicated onto existing instance",
			"instance_id", instanceID, "status", existing.Status)

		return instanceID, nil
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode workflow input: %w", err)
	}

	event := events.InstanceStartRequested{
		BaseEvent:    events.NewBaseEvent(events.InstanceStartRequestedEvent, instanceID),
		WorkflowType: workflowType,
		EntityID:     entityID,
		TenantID:     tenantID,
		Input:        payload,
	}
	event.ID = c.publisher.GenerateID()

	if err := c.publisher.Publish(ctx, instanceID, event); err != nil {
		return "", fmt.Errorf("publish start request: %w", err)
	}

	return instanceID, nil
}

// Signal validates a signal payload by name and publishes it toward the
// target instance. Delivery order per instance is preserved by partitioning
// the bus on instance ID.
func (c *Client) Signal(ctx context.Context, instanceID, name string, payload json.RawMessage) error {
	if err := c.validateSignal(name, payload); err != nil {
		return err
	}

	checkpoint, err := c.persistence.CheckpointByID(ctx, instanceID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return fmt.Errorf("signal %q: %w", name, persistence.ErrInstanceNotFound)
		}

		return fmt.Errorf("load instance for signal: %w", err)
	}

	if checkpoint.Status.IsTerminal() {
		return fmt.Errorf("signal %q to %s instance: %w",
			name, checkpoint.Status, engine.ErrInstanceTerminal)
	}

	event := events.SignalDelivered{
		BaseEvent: events.NewBaseEvent(events.SignalDeliveredEvent, instanceID),
		Signal: models.SignalEnvelope{
			ID:          c.publisher.GenerateID(),
			Name:        name,
			Payload:     payload,
			DeliveredAt: time.Now().UTC(),
		},
	}
	event.ID = c.publisher.GenerateID()

	if err := c.publisher.Publish(ctx, instanceID, event); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}

	return nil
}

// validateSignal decodes the payload into the typed struct for the signal
// name and runs struct validation. Unknown signal names are rejected here so
// malformed requests never reach a running instance.
func (c *Client) validateSignal(name string, payload json.RawMessage) error {
	var target any

	switch name {
	case events.SignalApprovalDecision:
		target = &events.ApprovalDecisionSignal{}
	case events.SignalCancelApproval, events.SignalCancelCase:
		target = &events.CancelSignal{}
	case events.SignalCompleteRequirement:
		target = &events.CompleteRequirementSignal{}
	case events.SignalTransitionStage:
		target = &events.TransitionStageSignal{}
	case events.SignalAddDeadline:
		target = &events.AddDeadlineSignal{}
	case events.SignalAddCourtDate:
		target = &events.AddCourtDateSignal{}
	case events.SignalPause:
		target = &events.PauseSignal{}
	case events.SignalResume:
		target = &events.ResumeSignal{}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrInvalidSignalPayload, name, err)
	}

	if err := c.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSignalPayload, name, err)
	}

	return nil
}

// GetApprovalStatus returns the approval snapshot for an entity. A missing
// or foreign instance yields a non-running snapshot, never an error, so
// callers can poll without special-casing.
func (c *Client) GetApprovalStatus(ctx context.Context, entityID string) (models.ApprovalStatus, error) {
	instanceID := models.InstanceID(models.WorkflowTypeApproval, entityID)

	var status models.ApprovalStatus

	checkpoint, err := c.persistence.CheckpointByID(ctx, instanceID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return status, nil
		}

		return status, fmt.Errorf("load approval status: %w", err)
	}

	if len(checkpoint.State) > 0 {
		if err := json.Unmarshal(checkpoint.State, &status); err != nil {
			return models.ApprovalStatus{}, fmt.Errorf("decode approval state: %w", err)
		}
	}

	status.Running = checkpoint.Status == models.InstanceStatusRunning

	return status, nil
}

// GetLifecycleStatus returns the lifecycle snapshot for an entity, with the
// same missing-instance behavior as GetApprovalStatus.
func (c *Client) GetLifecycleStatus(ctx context.Context, entityID string) (models.LifecycleStatus, error) {
	instanceID := models.InstanceID(models.WorkflowTypeCaseLifecycle, entityID)

	var status models.LifecycleStatus

	checkpoint, err := c.persistence.CheckpointByID(ctx, instanceID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return status, nil
		}

		return status, fmt.Errorf("load lifecycle status: %w", err)
	}

	if len(checkpoint.State) > 0 {
		if err := json.Unmarshal(checkpoint.State, &status); err != nil {
			return models.LifecycleStatus{}, fmt.Errorf("decode lifecycle state: %w", err)
		}
	}

	status.Running = checkpoint.Status == models.InstanceStatusRunning

	return status, nil
}

// HealthCheck reports persistence health for the API health endpoint.
func (c *Client) HealthCheck(ctx context.Context) (string, bool) {
	if err := c.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}
