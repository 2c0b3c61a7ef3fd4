package config

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the registries built from a loaded Config.
var (
	ErrWorkflowNotFound    = errors.New("config: workflow definition not found")
	ErrAgentDefNotFound    = errors.New("config: agent definition not found")
	ErrPartyDefNotFound    = errors.New("config: party definition not found")
	ErrPipelineDefNotFound = errors.New("config: pipeline definition not found")
	ErrToolRuleNotFound    = errors.New("config: tool rule not found")
)

// ValidationError reports a single field-level problem found while
// validating a loaded configuration. Multiple ValidationErrors are
// collected into a LoadError rather than failing on the first one.
type ValidationError struct {
	Kind  string // "workflow", "agent", "party", ...
	Name  string
	Field string
	Err   error
}

func NewValidationError(kind, name, field string, err error) *ValidationError {
	return &ValidationError{Kind: kind, Name: name, Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: field %q: %v", e.Kind, e.Name, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// LoadError wraps every problem found while loading and validating
// configuration from disk. Callers inspect Errors to report every
// failure at once instead of stopping at the first one.
type LoadError struct {
	Path   string
	Errors []error
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("config %s: %v", e.Path, e.Errors[0])
	}
	return fmt.Sprintf("config %s: %d errors (first: %v)", e.Path, len(e.Errors), e.Errors[0])
}

func (e *LoadError) Unwrap() []error {
	return e.Errors
}
