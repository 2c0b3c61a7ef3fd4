// Package vars implements the two-store variable scoping spec.md §4.1
// requires: writes to `variables.*` touch only the current workflow
// instance's own map, writes to `session.*` touch the session-shared
// map, and a workflow-scoped write is never visible to another
// workflow (spec.md §8 Testable Property 5).
package vars

import "context"

// Store is the minimal persistence seam vars needs; *store.Store
// satisfies it without this package importing pkg/store directly,
// keeping the scoping logic independent of the storage engine.
type Store interface {
	SetWorkflowVariables(ctx context.Context, instanceID string, vars map[string]any) error
	GetSessionVariables(ctx context.Context, sessionID string) (map[string]any, error)
	SetSessionVariables(ctx context.Context, sessionID string, vars map[string]any) error
}

// Scope is one hook evaluation's live variable bindings: the current
// workflow instance's own map (rebound per workflow as the engine
// iterates candidates, spec.md §4.1 step 3a) and the session map
// (stable across the whole evaluation).
type Scope struct {
	store     Store
	sessionID string

	session      map[string]any
	sessionDirty bool

	instanceID    string
	workflow      map[string]any
	workflowDirty bool
}

// NewScope loads the session-shared map once; it is reused across
// every workflow this evaluation considers.
func NewScope(ctx context.Context, store Store, sessionID string) (*Scope, error) {
	session, err := store.GetSessionVariables(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = map[string]any{}
	}
	return &Scope{store: store, sessionID: sessionID, session: session}, nil
}

// BindWorkflow rebinds the workflow-scoped map to instanceID's own
// variables ahead of evaluating that workflow's rules (spec.md §4.1
// step 3a). Any unflushed writes from the previously bound workflow
// are flushed first.
func (s *Scope) BindWorkflow(ctx context.Context, instanceID string, variables map[string]any) error {
	if s.workflowDirty {
		if err := s.flushWorkflow(ctx); err != nil {
			return err
		}
	}
	if variables == nil {
		variables = map[string]any{}
	}
	s.instanceID = instanceID
	s.workflow = variables
	s.workflowDirty = false
	return nil
}

// GetVariable reads a workflow-scoped variable of the currently bound
// workflow.
func (s *Scope) GetVariable(name string) (any, bool) {
	v, ok := s.workflow[name]
	return v, ok
}

// SetVariable writes a workflow-scoped variable, visible only to the
// currently bound workflow instance.
func (s *Scope) SetVariable(name string, value any) {
	s.workflow[name] = value
	s.workflowDirty = true
}

// GetSessionVariable reads a session-shared variable.
func (s *Scope) GetSessionVariable(name string) (any, bool) {
	v, ok := s.session[name]
	return v, ok
}

// SetSessionVariable writes a session-shared variable, visible to
// every workflow evaluated against this session.
func (s *Scope) SetSessionVariable(name string, value any) {
	s.session[name] = value
	s.sessionDirty = true
}

// VariablesSnapshot returns the currently bound workflow's variable
// map for binding into a `when` expression's evaluation context.
func (s *Scope) VariablesSnapshot() map[string]any {
	return s.workflow
}

// SessionSnapshot returns the session-shared map for binding into a
// `when` expression's evaluation context.
func (s *Scope) SessionSnapshot() map[string]any {
	return s.session
}

func (s *Scope) flushWorkflow(ctx context.Context) error {
	if s.instanceID == "" {
		return nil
	}
	if err := s.store.SetWorkflowVariables(ctx, s.instanceID, s.workflow); err != nil {
		return err
	}
	s.workflowDirty = false
	return nil
}

// Flush persists every dirty map exactly once, at the end of a hook
// evaluation (spec.md §4.1 step 5, "persist workflow-instance state
// changes atomically").
func (s *Scope) Flush(ctx context.Context) error {
	if s.workflowDirty {
		if err := s.flushWorkflow(ctx); err != nil {
			return err
		}
	}
	if s.sessionDirty {
		if err := s.store.SetSessionVariables(ctx, s.sessionID, s.session); err != nil {
			return err
		}
		s.sessionDirty = false
	}
	return nil
}
