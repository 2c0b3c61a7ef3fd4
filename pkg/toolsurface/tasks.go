package toolsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/gobby-dev/gobby/pkg/store"
)

func init() {
	register("tasks.create_task", tasksCreateTask)
	register("tasks.get_task", tasksGetTask)
	register("tasks.suggest_next_task", tasksSuggestNextTask)
	register("tasks.list_ready_tasks", tasksListReadyTasks)
	register("tasks.update_task_status", tasksUpdateTaskStatus)
	register("tasks.validate_task", tasksValidateTask)
	register("tasks.close_task", tasksCloseTask)
	register("tasks.reopen_task", tasksReopenTask)
	register("tasks.wait_for_task", tasksWaitForTask)
	register("tasks.wait_for_any_task", tasksWaitForAnyTask)
	register("tasks.wait_for_all_tasks", tasksWaitForAllTasks)
	register("tasks.parse_spec", tasksParseSpec)
	register("tasks.enrich_task", tasksEnrichTask)
	register("tasks.expand_task", tasksExpandTask)
	register("tasks.apply_tdd", tasksApplyTDD)
}

func (t *Toolbox) requireTasks() error {
	if t.tasks == nil {
		return fmt.Errorf("toolsurface: no task graph configured")
	}
	return nil
}

func tasksCreateTask(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	created, err := t.tasks.CreateTask(ctx, &store.Task{
		ProjectID:          argStringPtr(args, "project_id"),
		Title:              argString(args, "title"),
		Description:        argString(args, "description"),
		Priority:           argInt(args, "priority"),
		ParentTaskID:       argStringPtr(args, "parent_task_id"),
		DependsOn:          argStringSlice(args, "depends_on"),
		Category:           argStringPtr(args, "category"),
		ValidationCriteria: argStringPtr(args, "validation_criteria"),
		ReferenceDoc:       argStringPtr(args, "reference_doc"),
		CreatedInSessionID: &sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("toolsurface: create_task: %w", err)
	}
	return taskToMap(created), nil
}

func tasksGetTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	task, err := t.store.Tasks.Get(ctx, argString(args, "task_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_task: %w", err)
	}
	return taskToMap(task), nil
}

func tasksSuggestNextTask(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	task, err := t.tasks.SuggestNextTask(ctx, sessionID, argBool(args, "prefer_subtasks"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: suggest_next_task: %w", err)
	}
	if task == nil {
		return map[string]any{"task": nil}, nil
	}
	return map[string]any{"task": taskToMap(task)}, nil
}

func tasksListReadyTasks(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	ready, err := t.tasks.ListReadyTasks(ctx, argString(args, "project_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: list_ready_tasks: %w", err)
	}
	return map[string]any{"tasks": tasksToMaps(ready)}, nil
}

func tasksUpdateTaskStatus(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	err := t.tasks.UpdateTaskStatus(ctx, argString(args, "task_id"), argString(args, "status"), sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: update_task_status: %w", err)
	}
	return nil, nil
}

func tasksValidateTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	task, err := t.tasks.ValidateTask(ctx, argString(args, "task_id"), argBool(args, "passed"), argInt(args, "limit"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: validate_task: %w", err)
	}
	return taskToMap(task), nil
}

func tasksCloseTask(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	err := t.tasks.CloseTask(ctx, argString(args, "task_id"), argString(args, "commit_sha"), sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: close_task: %w", err)
	}
	return nil, nil
}

func tasksReopenTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	err := t.tasks.ReopenTask(ctx, argString(args, "task_id"), argString(args, "reason"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: reopen_task: %w", err)
	}
	return nil, nil
}

func waitTimeout(args map[string]any) time.Duration {
	secs := argInt(args, "timeout_seconds")
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func tasksWaitForTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	task, timedOut, err := t.tasks.WaitForTask(ctx, argString(args, "task_id"), waitTimeout(args))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: wait_for_task: %w", err)
	}
	return waitResult(task, timedOut), nil
}

func tasksWaitForAnyTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	task, timedOut, err := t.tasks.WaitForAnyTask(ctx, argStringSlice(args, "task_ids"), waitTimeout(args))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: wait_for_any_task: %w", err)
	}
	return waitResult(task, timedOut), nil
}

func tasksWaitForAllTasks(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	tasksOut, timedOut, err := t.tasks.WaitForAllTasks(ctx, argStringSlice(args, "task_ids"), waitTimeout(args))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: wait_for_all_tasks: %w", err)
	}
	return map[string]any{"tasks": tasksToMaps(tasksOut), "timed_out": timedOut}, nil
}

func waitResult(task *store.Task, timedOut bool) map[string]any {
	if task == nil {
		return map[string]any{"task": nil, "timed_out": timedOut}
	}
	return map[string]any{"task": taskToMap(task), "timed_out": timedOut}
}

func tasksParseSpec(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	created, err := t.tasks.ParseSpec(ctx, argString(args, "project_id"), argString(args, "spec_text"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: parse_spec: %w", err)
	}
	return map[string]any{"tasks": tasksToMaps(created)}, nil
}

func tasksEnrichTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	task, err := t.tasks.EnrichTask(ctx, argString(args, "task_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: enrich_task: %w", err)
	}
	return taskToMap(task), nil
}

func tasksExpandTask(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	children, err := t.tasks.ExpandTask(ctx, argString(args, "task_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: expand_task: %w", err)
	}
	return map[string]any{"subtasks": tasksToMaps(children)}, nil
}

func tasksApplyTDD(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireTasks(); err != nil {
		return nil, err
	}
	task, applied, err := t.tasks.ApplyTDD(ctx, argString(args, "task_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: apply_tdd: %w", err)
	}
	if !applied {
		return map[string]any{"applied": false}, nil
	}
	return map[string]any{"applied": true, "task": taskToMap(task)}, nil
}
