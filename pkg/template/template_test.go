package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jurisdesk/lexflow/pkg/models"
)

func validTemplate() models.StageTemplate {
	return models.StageTemplate{
		Name: "litigation",
		Stages: []models.Stage{
			{
				Name:      "intake",
				Order:     0,
				IsInitial: true,
				Requirements: []models.Requirement{
					{ID: "conflict-check", Type: "task", IsRequired: true},
					{ID: "retainer-signed", Type: "document", IsRequired: true},
				},
				AutoTransition:     true,
				NextStage:          "discovery",
				AllowedTransitions: []string{"discovery", "closed"},
			},
			{
				Name:               "discovery",
				Order:              1,
				AllowedTransitions: []string{"trial", "closed"},
			},
			{
				Name:               "trial",
				Order:              2,
				AllowedTransitions: []string{"closed"},
			},
			{
				Name:    "closed",
				Order:   3,
				IsFinal: true,
			},
		},
	}
}

func TestValidateAcceptsWellFormedTemplate(t *testing.T) {
	require.NoError(t, Validate(validTemplate()))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.StageTemplate)
		problem string
	}{
		{
			name:    "no initial stage",
			mutate:  func(tpl *models.StageTemplate) { tpl.Stages[0].IsInitial = false },
			problem: "exactly one initial stage",
		},
		{
			name: "two initial stages",
			mutate: func(tpl *models.StageTemplate) {
				tpl.Stages[1].IsInitial = true
			},
			problem: "exactly one initial stage",
		},
		{
			name:    "no final stage",
			mutate:  func(tpl *models.StageTemplate) { tpl.Stages[3].IsFinal = false },
			problem: "no final stage",
		},
		{
			name: "duplicate stage name",
			mutate: func(tpl *models.StageTemplate) {
				tpl.Stages[2].Name = "discovery"
			},
			problem: "duplicate stage name",
		},
		{
			name: "unknown transition target",
			mutate: func(tpl *models.StageTemplate) {
				tpl.Stages[1].AllowedTransitions = []string{"appeal"}
			},
			problem: "unknown stage",
		},
		{
			name: "auto transition without next stage",
			mutate: func(tpl *models.StageTemplate) {
				tpl.Stages[0].NextStage = ""
			},
			problem: "no next_stage",
		},
		{
			name: "next stage does not exist",
			mutate: func(tpl *models.StageTemplate) {
				tpl.Stages[0].NextStage = "mediation"
			},
			problem: "does not exist",
		},
		{
			name: "duplicate requirement in stage",
			mutate: func(tpl *models.StageTemplate) {
				tpl.Stages[0].Requirements = append(tpl.Stages[0].Requirements,
					models.Requirement{ID: "conflict-check", Type: "task"})
			},
			problem: "duplicate requirement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(&tpl)

			err := Validate(tpl)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTemplate)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	tpl := validTemplate()
	tpl.Stages[0].IsInitial = false
	tpl.Stages[3].IsFinal = false

	err := Validate(tpl)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, validationErr.Problems, 2)
}

func TestValidateJSON(t *testing.T) {
	valid := `{
		"name": "simple",
		"stages": [
			{"name": "open", "is_initial": true},
			{"name": "done", "is_final": true}
		]
	}`
	require.NoError(t, ValidateJSON([]byte(valid)))

	missingName := `{"stages": [{"name": "open"}]}`
	err := ValidateJSON([]byte(missingName))
	require.Error(t, err)

	emptyStages := `{"name": "simple", "stages": []}`
	require.Error(t, ValidateJSON([]byte(emptyStages)))
}
