package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StopSignalManager persists Stop Signal rows: thread-safe flags used
// to halt autonomous loops, global (session_id = NULL) or per-session
// (spec.md §3.1).
type StopSignalManager struct {
	pool *pgxpool.Pool
}

func newStopSignalManager(pool *pgxpool.Pool) *StopSignalManager {
	return &StopSignalManager{pool: pool}
}

func (m *StopSignalManager) Raise(ctx context.Context, sessionID *string, reason string) (*StopSignal, error) {
	sig := &StopSignal{ID: newID("stop"), SessionID: sessionID, Reason: reason}
	row := m.pool.QueryRow(ctx, `
		INSERT INTO stop_signals (id, session_id, reason) VALUES ($1,$2,$3)
		RETURNING requested_at`, sig.ID, sig.SessionID, sig.Reason)
	if err := row.Scan(&sig.RequestedAt); err != nil {
		return nil, fmt.Errorf("store: raise stop signal: %w", err)
	}
	return sig, nil
}

// Active reports whether an unhandled stop signal exists for a session,
// including the global (session_id IS NULL) signal.
func (m *StopSignalManager) Active(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := m.pool.QueryRow(ctx, `
		SELECT count(*) FROM stop_signals
		WHERE handled_at IS NULL AND (session_id = $1 OR session_id IS NULL)`, sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: check active stop signal: %w", err)
	}
	return count > 0, nil
}

// ListUnhandled lists every unhandled signal relevant to a session,
// global or session-scoped.
func (m *StopSignalManager) ListUnhandled(ctx context.Context, sessionID string) ([]*StopSignal, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, session_id, reason, requested_at, handled_at FROM stop_signals
		WHERE handled_at IS NULL AND (session_id = $1 OR session_id IS NULL)
		ORDER BY requested_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list unhandled stop signals: %w", err)
	}
	defer rows.Close()
	var out []*StopSignal
	for rows.Next() {
		s, err := scanStopSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m *StopSignalManager) MarkHandled(ctx context.Context, id string) error {
	tag, err := m.pool.Exec(ctx, `UPDATE stop_signals SET handled_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark stop signal handled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStopSignal(row rowScanner) (*StopSignal, error) {
	var s StopSignal
	if err := row.Scan(&s.ID, &s.SessionID, &s.Reason, &s.RequestedAt, &s.HandledAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan stop signal: %w", err)
	}
	return &s, nil
}
