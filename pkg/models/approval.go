package models

import "time"

// EscalationPolicy selects what happens when a decision wait times out.
type EscalationPolicy string

const (
	// EscalationAdvance records an escalated entry and proceeds to the next
	// level without an approval for the timed-out level.
	EscalationAdvance EscalationPolicy = "advance"
	// EscalationRewait re-resolves the approver for the same level and waits
	// again instead of passing the level through.
	EscalationRewait EscalationPolicy = "rewait"
)

// DefaultDecisionWait is how long each approval level waits for a decision
// before escalating.
const DefaultDecisionWait = 48 * time.Hour

// Amount thresholds for the default level count.
const (
	threeLevelThreshold = 100_000
	twoLevelThreshold   = 10_000
)

// LevelsForAmount returns the number of approval levels required for a
// monetary amount. Monotonic non-decreasing in the amount, computed once
// before execution starts.
func LevelsForAmount(amount float64) int {
	switch {
	case amount >= threeLevelThreshold:
		return 3
	case amount >= twoLevelThreshold:
		return 2
	default:
		return 1
	}
}

// ApprovalInput starts an invoice approval instance.
type ApprovalInput struct {
	EntityID    string  `json:"entity_id"    validate:"required"`
	TenantID    string  `json:"tenant_id"    validate:"required"`
	Amount      float64 `json:"amount"       validate:"gte=0"`
	RequesterID string  `json:"requester_id" validate:"required"`
	// Levels overrides the amount-derived level count when positive.
	Levels int `json:"levels,omitempty" validate:"omitempty,min=1,max=10"`
	// DecisionWait overrides DefaultDecisionWait when positive.
	DecisionWait     time.Duration    `json:"decision_wait,omitempty"`
	EscalationPolicy EscalationPolicy `json:"escalation_policy,omitempty" validate:"omitempty,oneof=advance rewait"`
}

// EffectiveLevels resolves the level count for this input.
func (in ApprovalInput) EffectiveLevels() int {
	if in.Levels > 0 {
		return in.Levels
	}

	return LevelsForAmount(in.Amount)
}

// EffectiveDecisionWait resolves the per-level decision wait.
func (in ApprovalInput) EffectiveDecisionWait() time.Duration {
	if in.DecisionWait > 0 {
		return in.DecisionWait
	}

	return DefaultDecisionWait
}

// EffectiveEscalationPolicy resolves the timeout behavior, defaulting to the
// pass-through advance policy.
func (in ApprovalInput) EffectiveEscalationPolicy() EscalationPolicy {
	if in.EscalationPolicy == EscalationRewait {
		return EscalationRewait
	}

	return EscalationAdvance
}

// ApprovalStatus is the read-only snapshot returned by the approval status
// query and stored as the checkpoint State.
type ApprovalStatus struct {
	Running      bool           `json:"running"`
	CurrentLevel int            `json:"current_level"`
	MaxLevel     int            `json:"max_level"`
	Decisions    []Decision     `json:"decisions"`
	Status       InstanceStatus `json:"status"`
	Escalated    bool           `json:"escalated"`
	CancelReason string         `json:"cancel_reason,omitempty"`
}
