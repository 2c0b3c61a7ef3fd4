package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AgentRunManager persists AgentRun rows: one per spawn, transitioned
// terminally by registry events or explicit kill (spec.md §3.2).
type AgentRunManager struct {
	pool *pgxpool.Pool
}

func newAgentRunManager(pool *pgxpool.Pool) *AgentRunManager {
	return &AgentRunManager{pool: pool}
}

func (m *AgentRunManager) Create(ctx context.Context, r *AgentRun) (*AgentRun, error) {
	if r.ID == "" {
		r.ID = newID("run")
	}
	if r.Status == "" {
		r.Status = AgentRunStatusPending
	}

	row := m.pool.QueryRow(ctx, `
		INSERT INTO agent_runs (id, parent_session_id, child_session_id, workflow_name,
			provider, model, mode, prompt, status, worktree_id, party_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		r.ID, r.ParentSessionID, r.ChildSessionID, r.WorkflowName, r.Provider,
		r.Model, r.Mode, r.Prompt, r.Status, r.WorktreeID, r.PartyID)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: create agent run: %w", err))
	}
	return r, nil
}

const agentRunSelectCols = `id, parent_session_id, child_session_id, workflow_name, provider,
		model, mode, prompt, status, worktree_id, result, party_id, started_at,
		completed_at, created_at, updated_at`

func (m *AgentRunManager) Get(ctx context.Context, id string) (*AgentRun, error) {
	row := m.pool.QueryRow(ctx, `SELECT `+agentRunSelectCols+` FROM agent_runs WHERE id = $1`, id)
	return scanAgentRun(row)
}

// MarkRunning transitions pending -> running and stamps started_at.
func (m *AgentRunManager) MarkRunning(ctx context.Context, id, childSessionID string) error {
	tag, err := m.pool.Exec(ctx, `
		UPDATE agent_runs SET status = $2, child_session_id = $3, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, AgentRunStatusRunning, childSessionID, AgentRunStatusPending)
	if err != nil {
		return fmt.Errorf("store: mark agent run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Finish transitions a run to a terminal status with its result
// payload. Any currently-running (or pending, for a kill-before-start)
// run may terminate; this is intentionally not conditioned on the
// prior status since kill/timeout can race a normal completion and
// either outcome reaching a terminal status first should win cleanly.
func (m *AgentRunManager) Finish(ctx context.Context, id, status string, result map[string]any) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("store: marshal agent run result: %w", err)
		}
	}
	tag, err := m.pool.Exec(ctx, `
		UPDATE agent_runs SET status = $2, result = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND completed_at IS NULL`, id, status, resultJSON)
	if err != nil {
		return fmt.Errorf("store: finish agent run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ListByParty lists every agent run belonging to a party, used by the
// Party Scheduler to observe member crashes (spec.md §4.4).
func (m *AgentRunManager) ListByParty(ctx context.Context, partyID string) ([]*AgentRun, error) {
	rows, err := m.pool.Query(ctx, `SELECT `+agentRunSelectCols+` FROM agent_runs WHERE party_id = $1 ORDER BY created_at ASC`, partyID)
	if err != nil {
		return nil, fmt.Errorf("store: list agent runs by party: %w", err)
	}
	defer rows.Close()
	var out []*AgentRun
	for rows.Next() {
		r, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByParentSession lists every run a session spawned, newest first —
// the input to list_agents (spec.md §6.1).
func (m *AgentRunManager) ListByParentSession(ctx context.Context, parentSessionID string) ([]*AgentRun, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT `+agentRunSelectCols+` FROM agent_runs
		WHERE parent_session_id = $1 ORDER BY created_at DESC`, parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list agent runs by parent session: %w", err)
	}
	defer rows.Close()
	var out []*AgentRun
	for rows.Next() {
		r, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRunning lists every run not yet in a terminal state, used for
// reconciliation sweeps at startup.
func (m *AgentRunManager) ListRunning(ctx context.Context) ([]*AgentRun, error) {
	rows, err := m.pool.Query(ctx, `SELECT `+agentRunSelectCols+` FROM agent_runs WHERE status IN ('pending','running')`)
	if err != nil {
		return nil, fmt.Errorf("store: list running agent runs: %w", err)
	}
	defer rows.Close()
	var out []*AgentRun
	for rows.Next() {
		r, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAgentRun(row rowScanner) (*AgentRun, error) {
	var r AgentRun
	var resultJSON []byte
	if err := row.Scan(&r.ID, &r.ParentSessionID, &r.ChildSessionID, &r.WorkflowName,
		&r.Provider, &r.Model, &r.Mode, &r.Prompt, &r.Status, &r.WorktreeID,
		&resultJSON, &r.PartyID, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan agent run: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
			return nil, fmt.Errorf("store: unmarshal agent run result: %w", err)
		}
	}
	return &r, nil
}
