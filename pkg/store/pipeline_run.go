package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineRunManager persists PipelineRun rows: the Pipeline Executor's
// parked/resumed state (spec.md §4.7, §5.8), grounded on
// WorkflowInstanceManager's same shape (one row per in-flight
// execution, JSONB for the free-form bits, a conditional UPDATE for
// the status transitions that matter).
type PipelineRunManager struct {
	pool *pgxpool.Pool
}

func newPipelineRunManager(pool *pgxpool.Pool) *PipelineRunManager {
	return &PipelineRunManager{pool: pool}
}

// Create starts a new run at step 0, running status, with a fresh
// resume token.
func (m *PipelineRunManager) Create(ctx context.Context, sessionID, pipelineName string, args map[string]any) (*PipelineRun, error) {
	run := &PipelineRun{
		ID:           newID("prun"),
		SessionID:    sessionID,
		PipelineName: pipelineName,
		Args:         args,
		Output:       map[string]any{},
		Status:       PipelineRunStatusRunning,
		ResumeToken:  uuid.New().String(),
	}
	argsJSON, err := json.Marshal(run.Args)
	if err != nil {
		return nil, fmt.Errorf("store: marshal pipeline run args: %w", err)
	}
	var outputJSON []byte
	row := m.pool.QueryRow(ctx, `
		INSERT INTO pipeline_runs (id, session_id, pipeline_name, args, resume_token)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING step_index, output, status, error, created_at, updated_at`,
		run.ID, run.SessionID, run.PipelineName, argsJSON, run.ResumeToken)
	if err := row.Scan(&run.StepIndex, &outputJSON, &run.Status, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: create pipeline run: %w", err)
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &run.Output); err != nil {
			return nil, fmt.Errorf("store: unmarshal pipeline run output: %w", err)
		}
	}
	return run, nil
}

// GetByToken fetches the run a resume token identifies, the
// correlation a parked pipeline's approval event is matched against.
func (m *PipelineRunManager) GetByToken(ctx context.Context, token string) (*PipelineRun, error) {
	row := m.pool.QueryRow(ctx, pipelineRunSelectSQL+` WHERE resume_token = $1`, token)
	return scanPipelineRun(row)
}

func (m *PipelineRunManager) Get(ctx context.Context, id string) (*PipelineRun, error) {
	row := m.pool.QueryRow(ctx, pipelineRunSelectSQL+` WHERE id = $1`, id)
	return scanPipelineRun(row)
}

const pipelineRunSelectSQL = `
	SELECT id, session_id, pipeline_name, step_index, args, output, status, resume_token, error, created_at, updated_at
	FROM pipeline_runs`

func scanPipelineRun(row rowScanner) (*PipelineRun, error) {
	var run PipelineRun
	var argsJSON, outputJSON []byte
	if err := row.Scan(&run.ID, &run.SessionID, &run.PipelineName, &run.StepIndex,
		&argsJSON, &outputJSON, &run.Status, &run.ResumeToken, &run.Error,
		&run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan pipeline run: %w", err)
	}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &run.Args); err != nil {
			return nil, fmt.Errorf("store: unmarshal pipeline run args: %w", err)
		}
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &run.Output); err != nil {
			return nil, fmt.Errorf("store: unmarshal pipeline run output: %w", err)
		}
	}
	return &run, nil
}

// Park records the run as parked at stepIndex awaiting an approval
// event, persisting output accumulated so far.
func (m *PipelineRunManager) Park(ctx context.Context, id string, stepIndex int, output map[string]any) error {
	return m.advance(ctx, id, stepIndex, output, PipelineRunStatusParked, nil)
}

// Resume flips a parked run back to running so the executor can pick
// up at its recorded step_index; the caller (pipeline.Executor.Run)
// continues the same run from there.
func (m *PipelineRunManager) Resume(ctx context.Context, id string) error {
	tag, err := m.pool.Exec(ctx, `
		UPDATE pipeline_runs SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`, id, PipelineRunStatusRunning, PipelineRunStatusParked)
	if err != nil {
		return fmt.Errorf("store: resume pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Complete records a successful finish with the final output.
func (m *PipelineRunManager) Complete(ctx context.Context, id string, output map[string]any) error {
	return m.advance(ctx, id, -1, output, PipelineRunStatusCompleted, nil)
}

// Fail records a terminal failure with its error message.
func (m *PipelineRunManager) Fail(ctx context.Context, id string, output map[string]any, cause error) error {
	msg := cause.Error()
	return m.advance(ctx, id, -1, output, PipelineRunStatusFailed, &msg)
}

// advance is the shared writer behind Park/Complete/Fail: a
// stepIndex of -1 leaves step_index untouched (the run is done either
// way, successfully or not).
func (m *PipelineRunManager) advance(ctx context.Context, id string, stepIndex int, output map[string]any, status string, errMsg *string) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("store: marshal pipeline run output: %w", err)
	}
	var rowsAffected int64
	if stepIndex < 0 {
		tag, execErr := m.pool.Exec(ctx, `
			UPDATE pipeline_runs SET status = $2, output = $3, error = $4, updated_at = now()
			WHERE id = $1`, id, status, outputJSON, errMsg)
		if execErr != nil {
			return fmt.Errorf("store: advance pipeline run: %w", execErr)
		}
		rowsAffected = tag.RowsAffected()
	} else {
		tag, execErr := m.pool.Exec(ctx, `
			UPDATE pipeline_runs SET status = $2, step_index = $3, output = $4, error = $5, updated_at = now()
			WHERE id = $1`, id, status, stepIndex, outputJSON, errMsg)
		if execErr != nil {
			return fmt.Errorf("store: advance pipeline run: %w", execErr)
		}
		rowsAffected = tag.RowsAffected()
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
