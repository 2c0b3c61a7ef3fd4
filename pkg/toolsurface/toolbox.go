// Package toolsurface composes every domain package behind the
// namespaced tool registries spec.md §6.1 exposes to agents (agents,
// tasks, workflows, worktrees, sessions, party): one method per tool,
// plus an InvokeTool dispatcher satisfying both engine.ToolInvoker and
// pipeline.ToolInvoker. The wire-level MCP JSON-RPC transport itself is
// out of scope here (SPEC_FULL.md §6) — Toolbox is the seam a
// transport layer dispatches into, not a server.
package toolsurface

import (
	"context"
	"fmt"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/party"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/store"
	"github.com/gobby-dev/gobby/pkg/tasks"
	"github.com/gobby-dev/gobby/pkg/workflow/index"
)

// Toolbox is the composed facade every tool namespace hangs off of,
// the same one-struct-per-domain-plus-*store.Store composition shape
// pkg/registry.Registry and pkg/party.Scheduler already use, one level
// up.
type Toolbox struct {
	store     *store.Store
	registry  *registry.Registry
	tasks     *tasks.Graph
	index     *index.Index
	scheduler *party.Scheduler
	bus       *bus.Bus
}

// New constructs a Toolbox. st is required; any of the other component
// arguments may be nil in a deployment that does not wire that subsystem (e.g. a
// control-plane-only process with no Party Scheduler); the
// corresponding tool calls then fail with a descriptive error instead
// of panicking, mirroring engine.Engine's nil-seam contract for
// call_mcp_tool/run_pipeline.
func New(st *store.Store, reg *registry.Registry, g *tasks.Graph, idx *index.Index, sched *party.Scheduler, b *bus.Bus) *Toolbox {
	return &Toolbox{store: st, registry: reg, tasks: g, index: idx, scheduler: sched, bus: b}
}

// InvokeTool dispatches a namespaced tool call (e.g. "tasks.close_task")
// by name, the seam call_mcp_tool and run_pipeline's `mcp` step both
// call through (engine.ToolInvoker, pipeline.ToolInvoker).
func (t *Toolbox) InvokeTool(ctx context.Context, sessionID, tool string, args map[string]any) (map[string]any, error) {
	fn, ok := toolTable[tool]
	if !ok {
		return nil, fmt.Errorf("toolsurface: unknown tool %q", tool)
	}
	return fn(ctx, t, sessionID, args)
}

type toolFunc func(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error)

// toolTable is assembled from each namespace file's contribution
// (agents.go, tasks.go, workflows.go, worktrees.go, sessions.go,
// party.go) via init, keeping each namespace's dispatch entries next to
// its implementation rather than in one long literal here.
var toolTable = map[string]toolFunc{}

func register(name string, fn toolFunc) {
	toolTable[name] = fn
}

// --- arg helpers shared across every namespace file ---

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argStringPtr(args map[string]any, key string) *string {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func argMap(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

func argStringSlice(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func taskToMap(t *store.Task) map[string]any {
	return map[string]any{
		"id":                    t.ID,
		"project_id":            derefStr(t.ProjectID),
		"seq_num":               t.SeqNum,
		"title":                 t.Title,
		"description":           t.Description,
		"status":                t.Status,
		"priority":              t.Priority,
		"parent_task_id":        derefStr(t.ParentTaskID),
		"depends_on":            t.DependsOn,
		"category":              derefStr(t.Category),
		"validation_criteria":   derefStr(t.ValidationCriteria),
		"validation_fail_count": t.ValidationFailCount,
		"reference_doc":         derefStr(t.ReferenceDoc),
		"is_enriched":           t.IsEnriched,
		"is_expanded":           t.IsExpanded,
		"is_tdd_applied":        t.IsTDDApplied,
		"commit_sha":            derefStr(t.CommitSHA),
		"assigned_session_id":   derefStr(t.AssignedSessionID),
	}
}

func tasksToMaps(in []*store.Task) []map[string]any {
	out := make([]map[string]any, len(in))
	for i, t := range in {
		out[i] = taskToMap(t)
	}
	return out
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
