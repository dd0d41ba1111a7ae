package models

import "time"

// Requirement is one checklist item gating progress out of a stage. The
// definition (Type, IsRequired) comes from the template and is read-only
// during execution; only the per-instance completion progress mutates.
type Requirement struct {
	ID         string `json:"id"          validate:"required"`
	Type       string `json:"type"        validate:"required"`
	Label      string `json:"label,omitempty"`
	IsRequired bool   `json:"is_required"`
}

// Stage is a node in the case lifecycle graph.
type Stage struct {
	Name           string        `json:"name"  validate:"required"`
	Order          int           `json:"order" validate:"gte=0"`
	IsInitial      bool          `json:"is_initial"`
	IsFinal        bool          `json:"is_final"`
	Requirements   []Requirement `json:"requirements,omitempty"`
	AutoTransition bool          `json:"auto_transition"`
	// NextStage is the target of an auto transition once every required
	// requirement in this stage completes.
	NextStage string `json:"next_stage,omitempty"`
	// AllowedTransitions lists the stages an explicit transition signal may
	// move to from here.
	AllowedTransitions []string `json:"allowed_transitions,omitempty"`
}

// StageTemplate is the directed graph of stages loaded once at instance
// start and treated as read-only afterwards.
type StageTemplate struct {
	Name   string  `json:"name" validate:"required"`
	Stages []Stage `json:"stages" validate:"required,min=1"`
}

// InitialStage returns the template's entry stage.
func (t StageTemplate) InitialStage() (Stage, bool) {
	for _, s := range t.Stages {
		if s.IsInitial {
			return s, true
		}
	}

	return Stage{}, false
}

// StageByName looks up a stage definition.
func (t StageTemplate) StageByName(name string) (Stage, bool) {
	for _, s := range t.Stages {
		if s.Name == name {
			return s, true
		}
	}

	return Stage{}, false
}

// LifecycleInput starts a case lifecycle instance.
type LifecycleInput struct {
	EntityID string        `json:"entity_id" validate:"required"`
	TenantID string        `json:"tenant_id" validate:"required"`
	Template StageTemplate `json:"template"  validate:"required"`
}

// RequirementProgress tracks per-instance completion of one requirement.
type RequirementProgress struct {
	RequirementID string         `json:"requirement_id"`
	Stage         string         `json:"stage"`
	CompletedBy   string         `json:"completed_by"`
	CompletedAt   time.Time      `json:"completed_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Deadline is a timestamped side-record attached to a lifecycle instance.
// It does not change the current stage; it is visible via query and drives
// external reminder activities.
type Deadline struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Due         time.Time `json:"due"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CourtDate is a deadline variant carrying hearing details.
type CourtDate struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LifecycleStatus is the read-only snapshot returned by the lifecycle status
// query and stored as the checkpoint State.
type LifecycleStatus struct {
	Running               bool                  `json:"running"`
	CurrentStage          string                `json:"current_stage"`
	CompletedRequirements []RequirementProgress `json:"completed_requirements"`
	Deadlines             []Deadline            `json:"deadlines"`
	CourtDates            []CourtDate           `json:"court_dates"`
	Events                []Decision            `json:"events"`
	IsPaused              bool                  `json:"is_paused"`
	Status                InstanceStatus        `json:"status"`
	CancelReason          string                `json:"cancel_reason,omitempty"`
}
