package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionManager is the persistence layer for Session rows, grounded on
// the teacher's SessionService: background-context timeouts on writes,
// a conditional UPDATE ... WHERE status = $old as the optimistic-
// concurrency primitive for status transitions.
type SessionManager struct {
	pool *pgxpool.Pool
}

func newSessionManager(pool *pgxpool.Pool) *SessionManager {
	return &SessionManager{pool: pool}
}

// Create inserts a new session with the active status.
func (m *SessionManager) Create(ctx context.Context, s *Session) (*Session, error) {
	if s.ID == "" {
		s.ID = newID("sess")
	}
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	if s.TerminalContext == nil {
		s.TerminalContext = map[string]any{}
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	termCtx, err := json.Marshal(s.TerminalContext)
	if err != nil {
		return nil, fmt.Errorf("store: marshal terminal_context: %w", err)
	}

	row := m.pool.QueryRow(writeCtx, `
		INSERT INTO sessions (id, source, project_id, status, parent_session_id,
			spawned_by_agent_id, agent_depth, transcript_path, machine_id,
			compact_markdown, terminal_context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		s.ID, s.Source, s.ProjectID, s.Status, s.ParentSessionID,
		s.SpawnedByAgentID, s.AgentDepth, s.TranscriptPath, s.MachineID,
		s.CompactMarkdown, termCtx)

	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: create session: %w", err))
	}
	return s, nil
}

// Get fetches a session by id.
func (m *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	row := m.pool.QueryRow(ctx, `
		SELECT id, source, project_id, status, parent_session_id,
			spawned_by_agent_id, agent_depth, transcript_path, machine_id,
			compact_markdown, terminal_context, created_at, updated_at
		FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// UpdateStatus transitions a session's status and stamps updated_at;
// the caller is responsible for archival via retention policy (spec.md
// §3.2), this method only flips status.
func (m *SessionManager) UpdateStatus(ctx context.Context, id, status string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag, err := m.pool.Exec(writeCtx, `
		UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTerminalPID merges a discovered PID into terminal_context,
// used by the Agent Registry's PID-discovery algorithm (spec.md §4.3).
func (m *SessionManager) RecordTerminalPID(ctx context.Context, id string, pid int) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag, err := m.pool.Exec(writeCtx, `
		UPDATE sessions SET terminal_context = terminal_context || jsonb_build_object('parent_pid', $2::int),
			updated_at = now()
		WHERE id = $1`, id, pid)
	if err != nil {
		return fmt.Errorf("store: record terminal pid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAgentDepth atomically bumps agent_depth for a newly spawned
// child session, enforcing the caller-supplied max via a conditional
// UPDATE so two concurrent spawns from the same parent cannot both
// slip past the limit.
func (m *SessionManager) IncrementAgentDepth(ctx context.Context, id string, max int) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var newDepth int
	err := m.pool.QueryRow(writeCtx, `
		UPDATE sessions SET agent_depth = agent_depth + 1, updated_at = now()
		WHERE id = $1 AND agent_depth < $2
		RETURNING agent_depth`, id, max).Scan(&newDepth)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrDepthExceeded
		}
		return 0, fmt.Errorf("store: increment agent depth: %w", err)
	}
	return newDepth, nil
}

// ListByProject lists sessions for a project, newest first.
func (m *SessionManager) ListByProject(ctx context.Context, projectID string) ([]*Session, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, source, project_id, status, parent_session_id,
			spawned_by_agent_id, agent_depth, transcript_path, machine_id,
			compact_markdown, terminal_context, created_at, updated_at
		FROM sessions WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ArchiveExpired archives every completed or expired session whose
// updated_at is older than the given age threshold (the retention-policy
// sweep referenced by spec.md §3.2); active and paused sessions are
// never archived here.
func (m *SessionManager) ArchiveExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	threshold := time.Now().Add(-olderThan)
	tag, err := m.pool.Exec(ctx, `
		UPDATE sessions SET status = $1, updated_at = now()
		WHERE status IN ('completed', 'expired') AND updated_at < $2`,
		SessionStatusArchived, threshold)
	if err != nil {
		return 0, fmt.Errorf("store: archive expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var termCtx []byte
	if err := row.Scan(&s.ID, &s.Source, &s.ProjectID, &s.Status, &s.ParentSessionID,
		&s.SpawnedByAgentID, &s.AgentDepth, &s.TranscriptPath, &s.MachineID,
		&s.CompactMarkdown, &termCtx, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	if len(termCtx) > 0 {
		if err := json.Unmarshal(termCtx, &s.TerminalContext); err != nil {
			return nil, fmt.Errorf("store: unmarshal terminal_context: %w", err)
		}
	}
	return &s, nil
}
