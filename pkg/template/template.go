// Package template validates stage templates before a case lifecycle
// instance is started. Templates are validated twice: shape via JSON schema,
// then graph consistency (initial/final stages, transition targets).
package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jurisdesk/lexflow/pkg/models"
)

var ErrInvalidTemplate = errors.New("invalid stage template")

// ValidationError carries every problem found in one validation pass so
// callers can report them all at once.
type ValidationError struct {
	Template string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid stage template %q: %s", e.Template, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTemplate }

const stageTemplateSchema = `{
	"type": "object",
	"required": ["name", "stages"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"stages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"order": {"type": "integer", "minimum": 0},
					"is_initial": {"type": "boolean"},
					"is_final": {"type": "boolean"},
					"auto_transition": {"type": "boolean"},
					"next_stage": {"type": "string"},
					"allowed_transitions": {"type": "array", "items": {"type": "string"}},
					"requirements": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "type"],
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"type": {"type": "string", "minLength": 1},
								"label": {"type": "string"},
								"is_required": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(stageTemplateSchema)

// ValidateJSON checks a raw template document against the schema. Shape
// errors are reported before the document is ever decoded into a
// StageTemplate.
func ValidateJSON(document []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("validate template schema: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return &ValidationError{Problems: problems}
	}

	return nil
}

// Validate checks graph consistency of a decoded template: exactly one
// initial stage, at least one final stage, unique stage names, and every
// transition edge pointing at a stage that exists. Auto transition stages
// must name a next stage.
func Validate(t models.StageTemplate) error {
	var problems []string

	if t.Name == "" {
		problems = append(problems, "template name is empty")
	}

	if len(t.Stages) == 0 {
		problems = append(problems, "template has no stages")
	}

	names := make(map[string]bool, len(t.Stages))
	initials := 0
	finals := 0

	for _, stage := range t.Stages {
		if stage.Name == "" {
			problems = append(problems, "stage with empty name")

			continue
		}

		if names[stage.Name] {
			problems = append(problems, fmt.Sprintf("duplicate stage name %q", stage.Name))
		}

		names[stage.Name] = true

		if stage.IsInitial {
			initials++
		}

		if stage.IsFinal {
			finals++
		}
	}

	if initials != 1 {
		problems = append(problems, fmt.Sprintf("template must have exactly one initial stage, found %d", initials))
	}

	if finals == 0 {
		problems = append(problems, "template has no final stage")
	}

	for _, stage := range t.Stages {
		if stage.AutoTransition && stage.NextStage == "" && !stage.IsFinal {
			problems = append(problems, fmt.Sprintf("stage %q has auto_transition but no next_stage", stage.Name))
		}

		if stage.NextStage != "" && !names[stage.NextStage] {
			problems = append(problems, fmt.Sprintf("stage %q next_stage %q does not exist", stage.Name, stage.NextStage))
		}

		for _, target := range stage.AllowedTransitions {
			if !names[target] {
				problems = append(problems, fmt.Sprintf("stage %q allows transition to unknown stage %q", stage.Name, target))
			}
		}

		seen := make(map[string]bool, len(stage.Requirements))
		for _, req := range stage.Requirements {
			if seen[req.ID] {
				problems = append(problems, fmt.Sprintf("stage %q has duplicate requirement %q", stage.Name, req.ID))
			}

			seen[req.ID] = true
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Template: t.Name, Problems: problems}
	}

	return nil
}
