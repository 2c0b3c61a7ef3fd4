// Package tasks implements the Task Graph (spec.md §4.2): dependency-
// aware retrieval over a persistent DAG of work items plus the task
// status state machine.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gobby-dev/gobby/pkg/store"
)

// ErrIllegalTransition is returned when update_task_status is asked to
// move a task along an edge the state machine doesn't allow.
var ErrIllegalTransition = errors.New("tasks: illegal status transition")

// validTransitions mirrors spec.md §4.2's status machine diagram
// exactly; close_task/reopen_task have their own dedicated methods
// below since they carry side effects (commit_sha, pending_review_at)
// the generic UpdateStatus does not.
var validTransitions = map[string]map[string]bool{
	store.TaskStatusPending: {
		store.TaskStatusInProgress: true,
	},
	store.TaskStatusInProgress: {
		store.TaskStatusPendingReview: true,
		store.TaskStatusCompleted:     true,
		store.TaskStatusBlocked:       true,
		store.TaskStatusEscalated:     true,
		store.TaskStatusCancelled:     true,
	},
	store.TaskStatusPendingReview: {
		store.TaskStatusCompleted:  true,
		store.TaskStatusInProgress: true, // reopen
	},
}

// WaitConfig controls the poll-with-jitter loop used by wait_for_task*,
// grounded on the teacher's Worker.pollInterval jitter helper (kept
// independent of the Messaging Bus's notify wiring per spec.md §9's
// "polling with adaptive backoff" option).
type WaitConfig struct {
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
}

func defaultWaitConfig() WaitConfig {
	return WaitConfig{PollInterval: 500 * time.Millisecond, PollIntervalJitter: 150 * time.Millisecond}
}

// Graph wraps the persistence layer with the spec.md §4.2 contract:
// cycle-safe creation, tie-break-ordered ready selection, the status
// state machine, validation escalation, and blocking waits.
type Graph struct {
	tasks      *store.TaskManager
	sessions   *store.SessionManager
	waitConfig WaitConfig
	enricher   Enricher
}

// New constructs a Graph. waitConfig may be the zero value, in which
// case sensible defaults are used.
func New(tasks *store.TaskManager, sessions *store.SessionManager, waitConfig WaitConfig) *Graph {
	if waitConfig.PollInterval == 0 {
		waitConfig = defaultWaitConfig()
	}
	return &Graph{tasks: tasks, sessions: sessions, waitConfig: waitConfig}
}

// CreateTask creates a task in pending status. Cycle rejection is
// handled inside store.TaskManager.Create (DFS over depends_on before
// the insert, spec.md §9).
func (g *Graph) CreateTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	return g.tasks.Create(ctx, t)
}

// SuggestNextTask returns the highest-priority ready task for the
// session's project. When preferSubtasks is true, tasks with a
// parent_task_id are considered ahead of top-level tasks, but the
// spec.md §4.2 tie-break order is preserved within each group since
// ListReady already returns tasks in that order.
func (g *Graph) SuggestNextTask(ctx context.Context, sessionID string, preferSubtasks bool) (*store.Task, error) {
	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("tasks: suggest next task: %w", err)
	}
	if sess.ProjectID == nil {
		return nil, fmt.Errorf("tasks: session %s has no project", sessionID)
	}

	ready, err := g.tasks.ListReady(ctx, *sess.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return nil, nil
	}
	if !preferSubtasks {
		return ready[0], nil
	}
	for _, t := range ready {
		if t.ParentTaskID != nil {
			return t, nil
		}
	}
	return ready[0], nil
}

// ListReadyTasks returns every pending task whose dependencies are all
// completed, in spec.md §4.2 tie-break order.
func (g *Graph) ListReadyTasks(ctx context.Context, projectID string) ([]*store.Task, error) {
	return g.tasks.ListReady(ctx, projectID)
}

// UpdateTaskStatus enforces the status machine for transitions not
// covered by the dedicated CloseTask/ReopenTask methods (e.g.
// claiming, blocking, cancelling). actorSessionID is accepted for
// parity with the spec.md §4.2 contract and future auditing; the state
// machine itself does not currently vary by actor.
func (g *Graph) UpdateTaskStatus(ctx context.Context, taskID, newStatus, actorSessionID string) error {
	current, err := g.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !validTransitions[current.Status][newStatus] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, newStatus)
	}
	return g.tasks.TransitionStatus(ctx, taskID, current.Status, newStatus)
}

// CloseTask implements spec.md §4.2's close_task: an agent session
// (agent_depth > 0) closing its own task parks it in pending_review for
// human approval; a human session (agent_depth == 0) closes it straight
// to completed.
func (g *Graph) CloseTask(ctx context.Context, taskID, commitSHA, actorSessionID string) error {
	actor, err := g.sessions.Get(ctx, actorSessionID)
	if err != nil {
		return fmt.Errorf("tasks: close task: %w", err)
	}
	toStatus := store.TaskStatusCompleted
	if actor.AgentDepth > 0 {
		toStatus = store.TaskStatusPendingReview
	}
	var sha *string
	if commitSHA != "" {
		sha = &commitSHA
	}
	return g.tasks.Close(ctx, taskID, toStatus, sha)
}

// ReopenTask implements spec.md §4.2's reopen_task: pending_review back
// to in_progress, clearing commit_sha. reason is accepted for parity
// with the tool contract; nothing currently persists it.
func (g *Graph) ReopenTask(ctx context.Context, taskID, reason string) error {
	return g.tasks.Reopen(ctx, taskID)
}

// ValidateTask records the outcome of validating the task against its
// recorded criteria: a failure (passed == false) increments
// validation_fail_count, escalating to the escalated status once limit
// is reached (spec.md §4.2, default limit 3). The validation itself is
// done by the caller; this method only records its result.
func (g *Graph) ValidateTask(ctx context.Context, taskID string, passed bool, limit int) (*store.Task, error) {
	if passed {
		return g.tasks.Get(ctx, taskID)
	}
	if limit <= 0 {
		limit = 3
	}
	return g.tasks.RecordValidationFailure(ctx, taskID, limit)
}

// WaitForTask blocks until the task leaves in_progress or timeout
// elapses. timeout == 0 returns immediately with the current state
// (spec.md §8 testable property).
func (g *Graph) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (task *store.Task, timedOut bool, err error) {
	results, timedOut, err := g.waitForAny(ctx, []string{taskID}, timeout, false)
	if err != nil {
		return nil, timedOut, err
	}
	if len(results) == 0 {
		if timeout <= 0 {
			current, err := g.tasks.Get(ctx, taskID)
			return current, false, err
		}
		return nil, timedOut, nil
	}
	return results[0], timedOut, nil
}

// WaitForAnyTask blocks until any one of ids leaves in_progress or
// timeout elapses.
func (g *Graph) WaitForAnyTask(ctx context.Context, ids []string, timeout time.Duration) (*store.Task, bool, error) {
	results, timedOut, err := g.waitForAny(ctx, ids, timeout, false)
	if err != nil || len(results) == 0 {
		return nil, timedOut, err
	}
	return results[0], timedOut, nil
}

// WaitForAllTasks blocks until every task in ids has left in_progress
// or timeout elapses.
func (g *Graph) WaitForAllTasks(ctx context.Context, ids []string, timeout time.Duration) ([]*store.Task, bool, error) {
	return g.waitForAny(ctx, ids, timeout, true)
}

// waitForAny is the shared poll loop. requireAll=false returns as soon
// as the first matching task settles; requireAll=true waits for every
// id to settle before returning.
func (g *Graph) waitForAny(ctx context.Context, ids []string, timeout time.Duration, requireAll bool) ([]*store.Task, bool, error) {
	fetch := func() ([]*store.Task, bool, error) {
		settled := make([]*store.Task, 0, len(ids))
		for _, id := range ids {
			t, err := g.tasks.Get(ctx, id)
			if err != nil {
				return nil, false, err
			}
			if t.Status != store.TaskStatusInProgress {
				settled = append(settled, t)
				if !requireAll {
					return settled, true, nil
				}
			}
		}
		if requireAll && len(settled) == len(ids) {
			return settled, true, nil
		}
		return nil, false, nil
	}

	if done, ok, err := fetch(); err != nil || ok {
		return done, false, err
	}
	if timeout <= 0 {
		return nil, false, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		wait := g.pollInterval()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, true, nil
		}
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(wait):
		}

		done, ok, err := fetch()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return done, false, nil
		}
		if time.Now().After(deadline) {
			return nil, true, nil
		}
	}
}

// pollInterval returns the configured poll duration with jitter,
// grounded on the teacher's Worker.pollInterval helper.
func (g *Graph) pollInterval() time.Duration {
	base := g.waitConfig.PollInterval
	jitter := g.waitConfig.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
