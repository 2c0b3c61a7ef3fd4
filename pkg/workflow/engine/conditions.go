package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gobby-dev/gobby/pkg/store"
)

// conditions builds the named condition-function suite spec.md §4.1
// step 1 calls out by example: task_tree_complete, user_says,
// is_test_file, for one evaluation's event. Each function is a closure
// over the engine (and, for user_says, over this event's prompt text)
// so it can reach the store without a `when` expression's signature
// needing to carry that context explicitly. Evaluation happens
// synchronously inside a yaegi call, so every condition function
// queries with context.Background() rather than the caller's context;
// those queries carry no deadline of their own. A condition function
// that errors simply returns false (spec.md
// §4.1 "Failure semantics": isolated failures never flip a decision).
func (e *Engine) conditions(st *evalState) map[string]any {
	return map[string]any{
		"task_tree_complete": e.taskTreeComplete,
		"user_says":          userSays(st),
		"is_test_file":       isTestFile,
	}
}

// taskTreeComplete reports whether taskID and every descendant reached
// a terminal completed status, walking ListChildren recursively.
func (e *Engine) taskTreeComplete(taskID string) bool {
	ctx := context.Background()
	task, err := e.store.Tasks.Get(ctx, taskID)
	if err != nil {
		slog.Warn("workflow: task_tree_complete lookup failed", "task_id", taskID, "error", err)
		return false
	}
	if task.Status != store.TaskStatusCompleted {
		return false
	}
	children, err := e.store.Tasks.ListChildren(ctx, taskID)
	if err != nil {
		slog.Warn("workflow: task_tree_complete children lookup failed", "task_id", taskID, "error", err)
		return false
	}
	for _, child := range children {
		if !e.taskTreeComplete(child.ID) {
			return false
		}
	}
	return true
}

// userSays returns a condition function reporting whether this
// evaluation's user_prompt_submit text contains keyword,
// case-insensitive. Any other event type has no prompt text, so the
// returned function always reports false.
func userSays(st *evalState) func(string) bool {
	prompt, _ := st.evt.Data["prompt"].(string)
	prompt = strings.ToLower(prompt)
	return func(keyword string) bool {
		if prompt == "" {
			return false
		}
		return strings.Contains(prompt, strings.ToLower(keyword))
	}
}

// isTestFile reports whether path looks like a test file, by the
// common Go/JS/Python suffix conventions.
func isTestFile(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range []string{"_test.go", ".test.ts", ".test.js", ".spec.ts", ".spec.js"} {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py")
}
