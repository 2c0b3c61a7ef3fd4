package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskManager persists Task rows: CRUD, DFS cycle detection over
// depends_on before every write, and the status state machine from
// spec.md §4.2, including the optimistic-concurrency UPDATE ... WHERE
// status = $old pattern mirroring SessionService.ClaimNextPendingSession.
type TaskManager struct {
	pool *pgxpool.Pool
}

func newTaskManager(pool *pgxpool.Pool) *TaskManager {
	return &TaskManager{pool: pool}
}

// Create inserts a task, assigning the next seq_num for its project and
// rejecting a depends_on set that would introduce a cycle.
func (m *TaskManager) Create(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == "" {
		t.ID = newID("task")
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := m.pool.Begin(writeCtx)
	if err != nil {
		return nil, fmt.Errorf("store: begin create task tx: %w", err)
	}
	defer tx.Rollback(writeCtx)

	if len(t.DependsOn) > 0 {
		cyclic, err := m.hasCycle(writeCtx, tx, t.ID, t.DependsOn)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, ErrCycleDetected
		}
	}

	var seqNum int
	if err := tx.QueryRow(writeCtx, `
		SELECT COALESCE(MAX(seq_num), 0) + 1 FROM tasks WHERE project_id IS NOT DISTINCT FROM $1`,
		t.ProjectID).Scan(&seqNum); err != nil {
		return nil, fmt.Errorf("store: allocate seq_num: %w", err)
	}
	t.SeqNum = seqNum

	row := tx.QueryRow(writeCtx, `
		INSERT INTO tasks (id, project_id, seq_num, title, description, status,
			priority, parent_task_id, depends_on, category, validation_criteria,
			reference_doc, expansion_context, created_in_session_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		t.ID, t.ProjectID, t.SeqNum, t.Title, t.Description, t.Status,
		t.Priority, t.ParentTaskID, t.DependsOn, t.Category, t.ValidationCriteria,
		t.ReferenceDoc, t.ExpansionContext, t.CreatedInSessionID)

	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: create task: %w", err))
	}
	if err := tx.Commit(writeCtx); err != nil {
		return nil, fmt.Errorf("store: commit create task: %w", err)
	}
	return t, nil
}

// hasCycle walks depends_on via DFS starting from each new dependency,
// looking for a path back to candidateID.
func (m *TaskManager) hasCycle(ctx context.Context, tx pgx.Tx, candidateID string, deps []string) (bool, error) {
	visited := map[string]bool{}
	var visit func(id string) (bool, error)
	visit = func(id string) (bool, error) {
		if id == candidateID {
			return true, nil
		}
		if visited[id] {
			return false, nil
		}
		visited[id] = true
		var next []string
		if err := tx.QueryRow(ctx, `SELECT depends_on FROM tasks WHERE id = $1`, id).Scan(&next); err != nil {
			if err == pgx.ErrNoRows {
				return false, nil
			}
			return false, fmt.Errorf("store: walk depends_on: %w", err)
		}
		for _, n := range next {
			found, err := visit(n)
			if err != nil || found {
				return found, err
			}
		}
		return false, nil
	}
	for _, dep := range deps {
		found, err := visit(dep)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// Get fetches a task by id.
func (m *TaskManager) Get(ctx context.Context, id string) (*Task, error) {
	row := m.pool.QueryRow(ctx, taskSelectSQL+` WHERE id = $1`, id)
	return scanTask(row)
}

const taskSelectSQL = `
	SELECT id, project_id, seq_num, title, description, status, priority, parent_task_id,
		depends_on, category, validation_criteria, validation_fail_count,
		reference_doc, expansion_context, is_enriched, is_expanded,
		is_tdd_applied, commit_sha, created_in_session_id, assigned_session_id,
		pending_review_at, created_at, updated_at
	FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	if err := row.Scan(&t.ID, &t.ProjectID, &t.SeqNum, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.ParentTaskID, &t.DependsOn, &t.Category, &t.ValidationCriteria, &t.ValidationFailCount,
		&t.ReferenceDoc, &t.ExpansionContext, &t.IsEnriched, &t.IsExpanded,
		&t.IsTDDApplied, &t.CommitSHA, &t.CreatedInSessionID, &t.AssignedSessionID,
		&t.PendingReviewAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	return &t, nil
}

// ListReady returns tasks that are pending and whose dependencies are
// all completed, ordered per spec.md §4.2's tie-break: priority desc,
// category == code preferred, then seq_num ascending (seq_num is
// assignment-ordered and unique per project, so it alone satisfies
// both "least recently created" and "deterministic id order").
func (m *TaskManager) ListReady(ctx context.Context, projectID string) ([]*Task, error) {
	rows, err := m.pool.Query(ctx, taskSelectSQL+`
		WHERE project_id IS NOT DISTINCT FROM $1
		  AND status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM unnest(depends_on) dep
			JOIN tasks dt ON dt.id = dep
			WHERE dt.status <> 'completed'
		  )
		ORDER BY priority DESC, (category = 'code') DESC, seq_num ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list ready tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListChildren returns every task whose parent_task_id is id, the
// building block a task_tree_complete condition function walks
// recursively to decide whether a task and all its subtasks are done
// (spec.md §4.1 step 1's condition function suite).
func (m *TaskManager) ListChildren(ctx context.Context, id string) ([]*Task, error) {
	rows, err := m.pool.Query(ctx, taskSelectSQL+` WHERE parent_task_id = $1 ORDER BY seq_num ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list child tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListBySession returns every task a session created or was assigned,
// ordered newest first — the input to get_session_commits (spec.md
// §6.1), which filters the result down to commit_sha-bearing rows.
func (m *TaskManager) ListBySession(ctx context.Context, sessionID string) ([]*Task, error) {
	rows, err := m.pool.Query(ctx, taskSelectSQL+`
		WHERE created_in_session_id = $1 OR assigned_session_id = $1
		ORDER BY updated_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks by session: %w", err)
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionStatus moves a task from "from" to "to" with optimistic
// concurrency: the UPDATE only matches a row currently at "from",
// mirroring ClaimNextPendingSession's conditional update. Zero rows
// affected means the task was already moved by another writer.
func (m *TaskManager) TransitionStatus(ctx context.Context, id, from, to string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var extra string
	var args []any
	args = append(args, id, to)
	if to == TaskStatusPendingReview {
		extra = `, pending_review_at = now()`
	}
	args = append(args, from)

	tag, err := m.pool.Exec(writeCtx, fmt.Sprintf(`
		UPDATE tasks SET status = $2, updated_at = now()%s
		WHERE id = $1 AND status = $3`, extra), args...)
	if err != nil {
		return fmt.Errorf("store: transition task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Close moves a task from in_progress to toStatus (pending_review or
// completed, per spec.md §4.2's close_task), optionally stamping
// commit_sha when a non-empty value is supplied.
func (m *TaskManager) Close(ctx context.Context, id, toStatus string, commitSHA *string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var extra string
	if toStatus == TaskStatusPendingReview {
		extra = `, pending_review_at = now()`
	}

	tag, err := m.pool.Exec(writeCtx, fmt.Sprintf(`
		UPDATE tasks SET status = $2, commit_sha = COALESCE($3, commit_sha), updated_at = now()%s
		WHERE id = $1 AND status = $4`, extra),
		id, toStatus, commitSHA, TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("store: close task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Reopen moves a task from pending_review back to in_progress and
// clears commit_sha (spec.md §4.2's reopen_task).
func (m *TaskManager) Reopen(ctx context.Context, id string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag, err := m.pool.Exec(writeCtx, `
		UPDATE tasks SET status = $2, commit_sha = NULL, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, TaskStatusInProgress, TaskStatusPendingReview)
	if err != nil {
		return fmt.Errorf("store: reopen task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Assign sets a task's assigned_session_id and moves it to in_progress.
func (m *TaskManager) Assign(ctx context.Context, id, sessionID string) error {
	tag, err := m.pool.Exec(ctx, `
		UPDATE tasks SET assigned_session_id = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, sessionID, TaskStatusInProgress, TaskStatusPending)
	if err != nil {
		return fmt.Errorf("store: assign task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// RecordValidationFailure increments validation_fail_count, escalating
// to the escalated status once the configured limit is reached
// (spec.md §4.2).
func (m *TaskManager) RecordValidationFailure(ctx context.Context, id string, limit int) (*Task, error) {
	row := m.pool.QueryRow(ctx, `
		UPDATE tasks SET
			validation_fail_count = validation_fail_count + 1,
			status = CASE WHEN validation_fail_count + 1 >= $2 THEN 'escalated' ELSE status END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+taskReturningCols, id, limit)
	return scanTask(row)
}

const taskReturningCols = `id, project_id, seq_num, title, description, status, priority, parent_task_id,
		depends_on, category, validation_criteria, validation_fail_count,
		reference_doc, expansion_context, is_enriched, is_expanded,
		is_tdd_applied, commit_sha, created_in_session_id, assigned_session_id,
		pending_review_at, created_at, updated_at`

// SetEnrichment records enrich_task's output (spec.md §6.1): a
// generated validation_criteria/reference_doc pair, flipping
// is_enriched once recorded.
func (m *TaskManager) SetEnrichment(ctx context.Context, id, validationCriteria, referenceDoc string) (*Task, error) {
	row := m.pool.QueryRow(ctx, `
		UPDATE tasks SET validation_criteria = $2, reference_doc = $3, is_enriched = true, updated_at = now()
		WHERE id = $1
		RETURNING `+taskReturningCols, id, validationCriteria, referenceDoc)
	return scanTask(row)
}

// MarkExpanded records expand_task's breakdown rationale against the
// parent task, flipping is_expanded once its subtasks are created.
func (m *TaskManager) MarkExpanded(ctx context.Context, id, expansionContext string) (*Task, error) {
	row := m.pool.QueryRow(ctx, `
		UPDATE tasks SET expansion_context = $2, is_expanded = true, updated_at = now()
		WHERE id = $1
		RETURNING `+taskReturningCols, id, expansionContext)
	return scanTask(row)
}

// MarkTDDApplied flips is_tdd_applied once apply_tdd has confirmed a
// failing test exists for the task ahead of its implementation.
func (m *TaskManager) MarkTDDApplied(ctx context.Context, id string) (*Task, error) {
	row := m.pool.QueryRow(ctx, `
		UPDATE tasks SET is_tdd_applied = true, updated_at = now()
		WHERE id = $1
		RETURNING `+taskReturningCols, id)
	return scanTask(row)
}
