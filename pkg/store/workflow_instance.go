package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkflowInstanceManager persists the per-session projection of a
// workflow definition (spec.md §3.1 Workflow Instance).
type WorkflowInstanceManager struct {
	pool *pgxpool.Pool
}

func newWorkflowInstanceManager(pool *pgxpool.Pool) *WorkflowInstanceManager {
	return &WorkflowInstanceManager{pool: pool}
}

// Activate creates a workflow instance for a session, or returns the
// existing one if (session_id, workflow_name) already exists —
// activation is idempotent per spec.md §3.1's uniqueness invariant.
func (m *WorkflowInstanceManager) Activate(ctx context.Context, wi *WorkflowInstance) (*WorkflowInstance, error) {
	if wi.ID == "" {
		wi.ID = newID("wfi")
	}
	if wi.Variables == nil {
		wi.Variables = map[string]any{}
	}
	varsJSON, err := json.Marshal(wi.Variables)
	if err != nil {
		return nil, fmt.Errorf("store: marshal workflow variables: %w", err)
	}

	row := m.pool.QueryRow(ctx, `
		INSERT INTO workflow_instances (id, session_id, workflow_name, enabled, priority, variables)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id, workflow_name) DO UPDATE SET enabled = EXCLUDED.enabled
		RETURNING id, session_id, workflow_name, enabled, priority, current_step,
			step_entered_at, step_action_count, total_action_count, variables,
			context_injected, created_at, updated_at`,
		wi.ID, wi.SessionID, wi.WorkflowName, wi.Enabled, wi.Priority, varsJSON)
	return scanWorkflowInstance(row)
}

// Get fetches a workflow instance by session and workflow name.
func (m *WorkflowInstanceManager) Get(ctx context.Context, sessionID, workflowName string) (*WorkflowInstance, error) {
	row := m.pool.QueryRow(ctx, `
		SELECT id, session_id, workflow_name, enabled, priority, current_step,
			step_entered_at, step_action_count, total_action_count, variables,
			context_injected, created_at, updated_at
		FROM workflow_instances WHERE session_id = $1 AND workflow_name = $2`, sessionID, workflowName)
	return scanWorkflowInstance(row)
}

// ListBySession lists every workflow instance active for a session.
func (m *WorkflowInstanceManager) ListBySession(ctx context.Context, sessionID string) ([]*WorkflowInstance, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, session_id, workflow_name, enabled, priority, current_step,
			step_entered_at, step_action_count, total_action_count, variables,
			context_injected, created_at, updated_at
		FROM workflow_instances WHERE session_id = $1 ORDER BY priority ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list workflow instances: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowInstance
	for rows.Next() {
		wi, err := scanWorkflowInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wi)
	}
	return out, rows.Err()
}

// SetVariables overwrites the workflow-scoped variable map, the store
// side of the two-store variable system (spec.md §4.1, §9 Testable
// Property 5): workflow-scoped variables are never visible across
// workflow boundaries.
func (m *WorkflowInstanceManager) SetVariables(ctx context.Context, id string, vars map[string]any) error {
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("store: marshal workflow variables: %w", err)
	}
	tag, err := m.pool.Exec(ctx, `
		UPDATE workflow_instances SET variables = $2, updated_at = now() WHERE id = $1`, id, varsJSON)
	if err != nil {
		return fmt.Errorf("store: set workflow variables: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnterStep moves a workflow instance into a step, resetting the
// per-step action counter and bumping total_action_count. The engine's
// bound on transitions per event (maxStepTransitions) is counted in
// memory during one evaluation and does not read these counters.
func (m *WorkflowInstanceManager) EnterStep(ctx context.Context, id, step string) error {
	tag, err := m.pool.Exec(ctx, `
		UPDATE workflow_instances SET current_step = $2, step_entered_at = now(),
			step_action_count = 0, total_action_count = total_action_count + 1, updated_at = now()
		WHERE id = $1`, id, step)
	if err != nil {
		return fmt.Errorf("store: enter step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate clears step state and workflow-scoped variables but
// leaves session variables untouched (spec.md §3.2).
func (m *WorkflowInstanceManager) Deactivate(ctx context.Context, id string) error {
	tag, err := m.pool.Exec(ctx, `DELETE FROM workflow_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: deactivate workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorkflowInstance(row rowScanner) (*WorkflowInstance, error) {
	var wi WorkflowInstance
	var varsJSON []byte
	if err := row.Scan(&wi.ID, &wi.SessionID, &wi.WorkflowName, &wi.Enabled, &wi.Priority,
		&wi.CurrentStep, &wi.StepEnteredAt, &wi.StepActionCount, &wi.TotalActionCount,
		&varsJSON, &wi.ContextInjected, &wi.CreatedAt, &wi.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan workflow instance: %w", err)
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &wi.Variables); err != nil {
			return nil, fmt.Errorf("store: unmarshal workflow variables: %w", err)
		}
	}
	return &wi, nil
}

// SessionVariableStore persists the single shared session-variable map
// per session (spec.md §3.1 Session Variables).
type SessionVariableStore struct {
	pool *pgxpool.Pool
}

func NewSessionVariableStore(pool *pgxpool.Pool) *SessionVariableStore {
	return &SessionVariableStore{pool: pool}
}

func (s *SessionVariableStore) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT variables FROM session_variables WHERE session_id = $1`, sessionID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("store: get session variables: %w", err)
	}
	vars := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &vars); err != nil {
			return nil, fmt.Errorf("store: unmarshal session variables: %w", err)
		}
	}
	return vars, nil
}

func (s *SessionVariableStore) Set(ctx context.Context, sessionID string, vars map[string]any) error {
	raw, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("store: marshal session variables: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_variables (session_id, variables, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET variables = EXCLUDED.variables, updated_at = now()`,
		sessionID, raw)
	if err != nil {
		return fmt.Errorf("store: set session variables: %w", err)
	}
	return nil
}
