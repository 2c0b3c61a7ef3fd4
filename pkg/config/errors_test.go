package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	baseErr := errors.New("must not be empty")

	tests := []struct {
		name     string
		ve       *ValidationError
		expected string
	}{
		{
			name:     "workflow trigger field",
			ve:       NewValidationError("workflow", "on-task-blocked", "triggers", baseErr),
			expected: `workflow "on-task-blocked": field "triggers": must not be empty`,
		},
		{
			name:     "agent definition spawn mode",
			ve:       NewValidationError("agent", "reviewer", "spawn_mode", baseErr),
			expected: `agent "reviewer": field "spawn_mode": must not be empty`,
		},
		{
			name:     "party definition roles",
			ve:       NewValidationError("party", "release-train", "roles", baseErr),
			expected: `party "release-train": field "roles": must not be empty`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.ve.Error())
			assert.ErrorIs(t, tt.ve, baseErr)
		})
	}
}

func TestLoadErrorError(t *testing.T) {
	single := &LoadError{Path: "/etc/gobby/workflows.yaml", Errors: []error{errors.New("boom")}}
	assert.Equal(t, `config /etc/gobby/workflows.yaml: boom`, single.Error())

	multi := &LoadError{Path: "/etc/gobby/workflows.yaml", Errors: []error{errors.New("first"), errors.New("second")}}
	assert.Equal(t, `config /etc/gobby/workflows.yaml: 2 errors (first: first)`, multi.Error())

	joined := errors.Join(multi.Errors...)
	assert.NotNil(t, joined)
}
