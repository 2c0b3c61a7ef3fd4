package toolsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/store"
)

func init() {
	register("worktrees.create_worktree", worktreesCreateWorktree)
	register("worktrees.list_worktrees", worktreesListWorktrees)
	register("worktrees.claim_worktree", worktreesClaimWorktree)
	register("worktrees.release_worktree", worktreesReleaseWorktree)
	register("worktrees.delete_worktree", worktreesDeleteWorktree)
	register("worktrees.spawn_agent_in_worktree", worktreesSpawnAgentInWorktree)
	register("worktrees.sync_worktree_from_main", worktreesSyncWorktreeFromMain)
	register("worktrees.detect_stale_worktrees", worktreesDetectStaleWorktrees)
	register("worktrees.cleanup_stale_worktrees", worktreesCleanupStaleWorktrees)
}

func worktreeToMap(w *store.Worktree) map[string]any {
	return map[string]any{
		"id":               w.ID,
		"project_id":       w.ProjectID,
		"task_id":          derefStr(w.TaskID),
		"branch_name":      w.BranchName,
		"filesystem_path":  w.FilesystemPath,
		"base_branch":      w.BaseBranch,
		"agent_session_id": derefStr(w.AgentSessionID),
		"status":           w.Status,
		"isolation_mode":   w.IsolationMode,
	}
}

func worktreesCreateWorktree(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	w, err := t.store.Worktrees.Create(ctx, &store.Worktree{
		ProjectID:      argString(args, "project_id"),
		TaskID:         argStringPtr(args, "task_id"),
		BranchName:     argString(args, "branch_name"),
		FilesystemPath: argString(args, "filesystem_path"),
		BaseBranch:     argString(args, "base_branch"),
		AgentSessionID: &sessionID,
		IsolationMode:  argString(args, "isolation_mode"),
	})
	if err != nil {
		return nil, fmt.Errorf("toolsurface: create_worktree: %w", err)
	}
	return worktreeToMap(w), nil
}

func worktreesListWorktrees(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	worktrees, err := t.store.Worktrees.ListActiveByProject(ctx, argString(args, "project_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: list_worktrees: %w", err)
	}
	out := make([]map[string]any, len(worktrees))
	for i, w := range worktrees {
		out[i] = worktreeToMap(w)
	}
	return map[string]any{"worktrees": out}, nil
}

// claim_worktree/release_worktree: the Worktree type (spec.md §3) has
// no claimant field distinct from agent_session_id, so a claim is
// represented as a MarkStatus transition into the reserved "claimed"
// status rather than new schema (see DESIGN.md "Tool surface").
func worktreesClaimWorktree(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	id := argString(args, "worktree_id")
	if err := t.store.Worktrees.MarkStatus(ctx, id, store.WorktreeStatusClaimed); err != nil {
		return nil, fmt.Errorf("toolsurface: claim_worktree: %w", err)
	}
	return nil, nil
}

func worktreesReleaseWorktree(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	id := argString(args, "worktree_id")
	if err := t.store.Worktrees.MarkStatus(ctx, id, store.WorktreeStatusActive); err != nil {
		return nil, fmt.Errorf("toolsurface: release_worktree: %w", err)
	}
	return nil, nil
}

func worktreesDeleteWorktree(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	id := argString(args, "worktree_id")
	if err := t.store.Worktrees.MarkStatus(ctx, id, store.WorktreeStatusDeleted); err != nil {
		return nil, fmt.Errorf("toolsurface: delete_worktree: %w", err)
	}
	return nil, nil
}

// spawn_agent_in_worktree is a start_agent call pinned to an existing
// worktree_id rather than letting the registry allocate a fresh one.
func worktreesSpawnAgentInWorktree(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	wtID := argString(args, "worktree_id")
	res, err := t.StartAgent(ctx, sessionID, registry.SpawnParams{
		AgentDefinition: argString(args, "agent_definition"),
		Workflow:        argString(args, "workflow"),
		Prompt:          argString(args, "prompt"),
		WorktreeID:      &wtID,
		TaskID:          argStringPtr(args, "task_id"),
	})
	if err != nil {
		return nil, fmt.Errorf("toolsurface: spawn_agent_in_worktree: %w", err)
	}
	return map[string]any{"run_id": res.RunID, "session_id": res.SessionID}, nil
}

// sync_worktree_from_main has no git-operations library anywhere in
// the example pack (DESIGN.md "Tool surface"); the store records the
// worktree's existing status unchanged, just returning it, so a caller
// driving the actual rebase externally still has a single place to
// confirm the worktree's bookkeeping state before and after.
func worktreesSyncWorktreeFromMain(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	w, err := t.store.Worktrees.Get(ctx, argString(args, "worktree_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: sync_worktree_from_main: %w", err)
	}
	return worktreeToMap(w), nil
}

const defaultStaleAge = 24 * time.Hour

func worktreesDetectStaleWorktrees(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	active, err := t.store.Worktrees.ListActiveByProject(ctx, argString(args, "project_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: detect_stale_worktrees: %w", err)
	}
	age := defaultStaleAge
	if secs := argInt(args, "max_age_seconds"); secs > 0 {
		age = time.Duration(secs) * time.Second
	}
	cutoff := time.Now().Add(-age)
	var stale []map[string]any
	for _, w := range active {
		if w.UpdatedAt.Before(cutoff) {
			stale = append(stale, worktreeToMap(w))
		}
	}
	return map[string]any{"stale": stale}, nil
}

func worktreesCleanupStaleWorktrees(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	detected, err := worktreesDetectStaleWorktrees(ctx, t, sessionID, args)
	if err != nil {
		return nil, err
	}
	stale, _ := detected["stale"].([]map[string]any)
	cleaned := 0
	for _, w := range stale {
		id, _ := w["id"].(string)
		if err := t.store.Worktrees.MarkStatus(ctx, id, store.WorktreeStatusStale); err != nil {
			return nil, fmt.Errorf("toolsurface: cleanup_stale_worktrees: %w", err)
		}
		cleaned++
	}
	return map[string]any{"cleaned": cleaned}, nil
}
