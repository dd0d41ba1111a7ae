// Package web provides the HTTP surface for starting, signalling, and
// querying workflow instances.
package web

import (
	"time"

	"github.com/jurisdesk/lexflow/pkg/models"
)

// StartApprovalRequest represents the request body for starting an invoice
// approval instance.
type StartApprovalRequest struct {
	EntityID         string  `json:"entity_id"         validate:"required"`
	TenantID         string  `json:"tenant_id"         validate:"required"`
	Amount           float64 `json:"amount"            validate:"gte=0"`
	RequesterID      string  `json:"requester_id"      validate:"required"`
	Levels           int     `json:"levels,omitempty"  validate:"omitempty,min=1,max=10"`
	DecisionWait     string  `json:"decision_wait,omitempty"`
	EscalationPolicy string  `json:"escalation_policy,omitempty" validate:"omitempty,oneof=advance rewait"`
}

// ToInput converts the request into the workflow input.
func (r StartApprovalRequest) ToInput() (models.ApprovalInput, error) {
	input := models.ApprovalInput{
		EntityID:         r.EntityID,
		TenantID:         r.TenantID,
		Amount:           r.Amount,
		RequesterID:      r.RequesterID,
		Levels:           r.Levels,
		EscalationPolicy: models.EscalationPolicy(r.EscalationPolicy),
	}

	if r.DecisionWait != "" {
		wait, err := time.ParseDuration(r.DecisionWait)
		if err != nil {
			return models.ApprovalInput{}, err
		}

		input.DecisionWait = wait
	}

	return input, nil
}

// StartLifecycleRequest represents the request body for starting a case
// lifecycle instance.
type StartLifecycleRequest struct {
	EntityID string               `json:"entity_id" validate:"required"`
	TenantID string               `json:"tenant_id" validate:"required"`
	Template models.StageTemplate `json:"template"  validate:"required"`
}

// StartResponse returns the deterministic instance ID for a start request.
type StartResponse struct {
	InstanceID string `json:"instance_id"`
}

// HealthResponse reports component health for the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
