package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PartyManager persists Party and PartyMember rows (spec.md §3.1, §4.4):
// a heterogeneous role DAG with per-role crash-recovery policy.
type PartyManager struct {
	pool *pgxpool.Pool
}

func newPartyManager(pool *pgxpool.Pool) *PartyManager {
	return &PartyManager{pool: pool}
}

func (m *PartyManager) Create(ctx context.Context, p *Party) (*Party, error) {
	if p.ID == "" {
		p.ID = newID("party")
	}
	if p.Status == "" {
		p.Status = PartyStatusPending
	}
	snapshot, err := json.Marshal(p.DefinitionSnapshot)
	if err != nil {
		return nil, fmt.Errorf("store: marshal party definition snapshot: %w", err)
	}
	row := m.pool.QueryRow(ctx, `
		INSERT INTO parties (id, definition_snapshot, project_id, status, leader_session_id, task_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, snapshot, p.ProjectID, p.Status, p.LeaderSessionID, p.TaskID)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: create party: %w", err))
	}
	return p, nil
}

func (m *PartyManager) Get(ctx context.Context, id string) (*Party, error) {
	row := m.pool.QueryRow(ctx, `
		SELECT id, definition_snapshot, project_id, status, leader_session_id, task_id, created_at, updated_at
		FROM parties WHERE id = $1`, id)
	return scanParty(row)
}

// ListByProject lists parties for a project, newest first — the input
// to list_parties (spec.md §6.1).
func (m *PartyManager) ListByProject(ctx context.Context, projectID string) ([]*Party, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, definition_snapshot, project_id, status, leader_session_id, task_id, created_at, updated_at
		FROM parties WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list parties: %w", err)
	}
	defer rows.Close()
	var out []*Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (m *PartyManager) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := m.pool.Exec(ctx, `UPDATE parties SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update party status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanParty(row rowScanner) (*Party, error) {
	var p Party
	var snapshot []byte
	if err := row.Scan(&p.ID, &snapshot, &p.ProjectID, &p.Status, &p.LeaderSessionID,
		&p.TaskID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan party: %w", err)
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &p.DefinitionSnapshot); err != nil {
			return nil, fmt.Errorf("store: unmarshal party definition snapshot: %w", err)
		}
	}
	return &p, nil
}

const partyMemberSelectCols = `id, party_id, role_name, instance_index, session_id, status,
		crash_count, on_crash, max_retries, created_at, updated_at`

func (m *PartyManager) AddMember(ctx context.Context, pm *PartyMember) (*PartyMember, error) {
	if pm.ID == "" {
		pm.ID = newID("pmem")
	}
	if pm.Status == "" {
		pm.Status = PartyStatusPending
	}
	row := m.pool.QueryRow(ctx, `
		INSERT INTO party_members (id, party_id, role_name, instance_index, session_id,
			status, crash_count, on_crash, max_retries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		pm.ID, pm.PartyID, pm.RoleName, pm.InstanceIndex, pm.SessionID, pm.Status,
		pm.CrashCount, pm.OnCrash, pm.MaxRetries)
	if err := row.Scan(&pm.CreatedAt, &pm.UpdatedAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: add party member: %w", err))
	}
	return pm, nil
}

func (m *PartyManager) ListMembers(ctx context.Context, partyID string) ([]*PartyMember, error) {
	rows, err := m.pool.Query(ctx, `SELECT `+partyMemberSelectCols+` FROM party_members
		WHERE party_id = $1 ORDER BY role_name, instance_index`, partyID)
	if err != nil {
		return nil, fmt.Errorf("store: list party members: %w", err)
	}
	defer rows.Close()
	var out []*PartyMember
	for rows.Next() {
		pm, err := scanPartyMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

// MarkCrashed increments a member's crash_count and sets its status,
// the input the Party Scheduler consults to decide restart/pause/abort
// (spec.md §4.4).
func (m *PartyManager) MarkCrashed(ctx context.Context, id, status string) (*PartyMember, error) {
	row := m.pool.QueryRow(ctx, `
		UPDATE party_members SET status = $2, crash_count = crash_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+partyMemberSelectCols, id, status)
	return scanPartyMember(row)
}

func (m *PartyManager) UpdateMemberStatus(ctx context.Context, id, status string) error {
	tag, err := m.pool.Exec(ctx, `UPDATE party_members SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update party member status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPartyMember(row rowScanner) (*PartyMember, error) {
	var pm PartyMember
	if err := row.Scan(&pm.ID, &pm.PartyID, &pm.RoleName, &pm.InstanceIndex, &pm.SessionID,
		&pm.Status, &pm.CrashCount, &pm.OnCrash, &pm.MaxRetries, &pm.CreatedAt, &pm.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan party member: %w", err)
	}
	return &pm, nil
}
