package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorktreeManager persists Worktree/Clone rows (spec.md §3.1, §3.2):
// created on demand, retained by the registry even if the underlying
// filesystem operation is later undone externally.
type WorktreeManager struct {
	pool *pgxpool.Pool
}

func newWorktreeManager(pool *pgxpool.Pool) *WorktreeManager {
	return &WorktreeManager{pool: pool}
}

const worktreeSelectCols = `id, project_id, task_id, branch_name, filesystem_path, base_branch,
		agent_session_id, status, isolation_mode, created_at, updated_at, merged_at`

func (m *WorktreeManager) Create(ctx context.Context, w *Worktree) (*Worktree, error) {
	if w.ID == "" {
		w.ID = newID("wt")
	}
	if w.Status == "" {
		w.Status = WorktreeStatusActive
	}
	row := m.pool.QueryRow(ctx, `
		INSERT INTO worktrees (id, project_id, task_id, branch_name, filesystem_path,
			base_branch, agent_session_id, status, isolation_mode)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		w.ID, w.ProjectID, w.TaskID, w.BranchName, w.FilesystemPath, w.BaseBranch,
		w.AgentSessionID, w.Status, w.IsolationMode)
	if err := row.Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: create worktree: %w", err))
	}
	return w, nil
}

func (m *WorktreeManager) Get(ctx context.Context, id string) (*Worktree, error) {
	row := m.pool.QueryRow(ctx, `SELECT `+worktreeSelectCols+` FROM worktrees WHERE id = $1`, id)
	return scanWorktree(row)
}

// ListActiveByProject lists non-terminal worktrees for a project, the
// input to the detect_stale_worktrees/cleanup_stale_worktrees tools in
// pkg/toolsurface.
func (m *WorktreeManager) ListActiveByProject(ctx context.Context, projectID string) ([]*Worktree, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT `+worktreeSelectCols+` FROM worktrees
		WHERE project_id = $1 AND status IN ('active','stale') ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list active worktrees: %w", err)
	}
	defer rows.Close()
	var out []*Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (m *WorktreeManager) MarkStatus(ctx context.Context, id, status string) error {
	var mergedClause string
	if status == WorktreeStatusMerged {
		mergedClause = `, merged_at = now()`
	}
	tag, err := m.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE worktrees SET status = $2, updated_at = now()%s WHERE id = $1`, mergedClause), id, status)
	if err != nil {
		return fmt.Errorf("store: mark worktree status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorktree(row rowScanner) (*Worktree, error) {
	var w Worktree
	if err := row.Scan(&w.ID, &w.ProjectID, &w.TaskID, &w.BranchName, &w.FilesystemPath,
		&w.BaseBranch, &w.AgentSessionID, &w.Status, &w.IsolationMode,
		&w.CreatedAt, &w.UpdatedAt, &w.MergedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan worktree: %w", err)
	}
	return &w, nil
}
