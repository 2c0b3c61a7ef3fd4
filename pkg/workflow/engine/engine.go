// Package engine implements the Workflow Engine's per-event evaluation
// (spec.md §4.1): on every hook event it decides whether to allow,
// block, or augment the agent's next action, and advances each
// workflow instance's step state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/hooks"
	"github.com/gobby-dev/gobby/pkg/store"
	"github.com/gobby-dev/gobby/pkg/workflow/expr"
	"github.com/gobby-dev/gobby/pkg/workflow/index"
	"github.com/gobby-dev/gobby/pkg/workflow/vars"
)

// maxStepTransitions bounds the number of consecutive step transitions
// one event may fire, per spec.md §4.1 step 3d's livelock guard.
const maxStepTransitions = 8

// defaultActionBudget is the per-action time budget spec.md §4.1
// "Cancellation/timeouts" describes; run_pipeline and call_mcp_tool
// get their own context.WithTimeout derived from it.
const defaultActionBudget = 30

// ToolInvoker is the seam call_mcp_tool dispatches through. It is
// declared here rather than imported from pkg/toolsurface so this
// package never depends on the tool-surface package that in turn
// depends on the engine — the same forward-reference pattern the
// teacher's agent package uses for its LLMClient seam.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, sessionID, tool string, args map[string]any) (map[string]any, error)
}

// PipelineRunner is the seam run_pipeline dispatches through.
type PipelineRunner interface {
	Run(ctx context.Context, sessionID, pipelineName string, args map[string]any) (parked bool, token string, err error)
}

// Engine evaluates hook events against the loaded workflow index,
// maintaining workflow-instance state in the store.
type Engine struct {
	store     *store.Store
	index     *index.Index
	evaluator *expr.Evaluator

	tools     ToolInvoker
	pipelines PipelineRunner
}

// New constructs an Engine. tools and pipelines may be nil; any
// workflow that reaches a call_mcp_tool or run_pipeline action with a
// nil seam fails that single action (isolated per spec.md §4.1
// "Failure semantics") rather than panicking.
func New(st *store.Store, idx *index.Index, tools ToolInvoker, pipelines PipelineRunner) *Engine {
	return &Engine{
		store:     st,
		index:     idx,
		evaluator: expr.New(),
		tools:     tools,
		pipelines: pipelines,
	}
}

// evalState is one Evaluate call's running aggregate: the pieces of
// HookResponse built up across every candidate workflow, plus the
// global first-block-wins flag.
type evalState struct {
	evt     hooks.HookEvent
	scope   *vars.Scope
	context []string
	message string
	blocked bool

	varsUpdated map[string]any
}

// Evaluate runs spec.md §4.1's six-step algorithm for one canonical
// hook event and returns the response the originating CLI should act
// on.
func (e *Engine) Evaluate(ctx context.Context, evt hooks.HookEvent) (hooks.HookResponse, error) {
	scope, err := vars.NewScope(ctx, e.store, evt.SessionID)
	if err != nil {
		return hooks.HookResponse{}, fmt.Errorf("workflow: load session variables: %w", err)
	}
	st := &evalState{evt: evt, scope: scope, varsUpdated: map[string]any{}}

	candidates := e.candidateWorkflows(evt.EventType)
	toolRelated := evt.EventType == hooks.EventBeforeTool || evt.EventType == hooks.EventAfterTool

	for _, wf := range candidates {
		instance, err := e.ensureInstance(ctx, evt.SessionID, wf)
		if err != nil {
			slog.Error("workflow: ensure instance failed", "workflow", wf.Name, "error", err)
			continue
		}
		if !instance.Enabled {
			continue
		}

		if err := scope.BindWorkflow(ctx, instance.ID, instance.Variables); err != nil {
			slog.Error("workflow: bind workflow scope failed", "workflow", wf.Name, "error", err)
			continue
		}

		e.evaluateTriggerRules(ctx, st, wf, instance)
		if toolRelated && len(wf.Steps) > 0 {
			e.evaluateStepRules(ctx, st, wf, instance)
			e.evaluateStepTransitions(ctx, st, wf, instance)
		}

		if st.blocked {
			break
		}
	}

	for _, name := range e.observerNames(candidates) {
		e.evaluateObserver(ctx, st, name)
	}

	if err := scope.Flush(ctx); err != nil {
		return hooks.HookResponse{}, fmt.Errorf("workflow: flush variable scope: %w", err)
	}

	resp := hooks.HookResponse{
		Decision:         hooks.DecisionAllow,
		Context:          strings.Join(st.context, "\n"),
		Message:          st.message,
		VariablesUpdated: st.varsUpdated,
	}
	if st.blocked {
		resp.Decision = hooks.DecisionBlock
	}
	return resp, nil
}

// candidateWorkflows fetches workflows indexed to eventType plus, for
// tool-related events, every step-tool-rule workflow regardless of its
// own trigger index (spec.md §4.1 step 2), deduplicated by name and
// sorted ascending by priority.
func (e *Engine) candidateWorkflows(eventType string) []*config.WorkflowDefinition {
	seen := map[string]bool{}
	var out []*config.WorkflowDefinition
	add := func(wf *config.WorkflowDefinition) {
		if seen[wf.Name] {
			return
		}
		seen[wf.Name] = true
		out = append(out, wf)
	}

	for _, wf := range e.index.ByTrigger(eventType) {
		add(wf)
	}
	if eventType == hooks.EventBeforeTool || eventType == hooks.EventAfterTool {
		for _, wf := range e.index.WithSteps() {
			add(wf)
		}
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Priority > out[j].Priority; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// observerNames lists the distinct observer workflow names registered
// across this event's candidates (spec.md §4.1 step 4).
func (e *Engine) observerNames(candidates []*config.WorkflowDefinition) []string {
	seen := map[string]bool{}
	var out []string
	for _, wf := range candidates {
		for _, name := range wf.Observers {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// ensureInstance fetches the session's instance of wf, creating it
// from enabled_default on first encounter (spec.md §4.1 step 2).
// Activate is idempotent and never force-re-enables an instance that
// was previously disabled by end_workflow, since its ON CONFLICT
// clause only refreshes enabled on insert-or-update of a row that does
// not yet exist in this session — once deactivated, a row is deleted
// entirely by Deactivate, so the next ensureInstance legitimately
// recreates it at enabled_default.
func (e *Engine) ensureInstance(ctx context.Context, sessionID string, wf *config.WorkflowDefinition) (*store.WorkflowInstance, error) {
	instance, err := e.store.Workflows.Get(ctx, sessionID, wf.Name)
	if err == nil {
		return instance, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return e.store.Workflows.Activate(ctx, &store.WorkflowInstance{
		SessionID:    sessionID,
		WorkflowName: wf.Name,
		Enabled:      wf.EnabledDefault,
		Priority:     wf.Priority,
		Variables:    copyAnyMap(wf.WorkflowVariables),
	})
}

func copyAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// evalContext builds the expr.Context a `when` expression or step
// transition guard evaluates against, binding this event's fields and
// the condition-function suite (spec.md §4.1 step 1).
func (e *Engine) evalContext(st *evalState) expr.Context {
	return expr.Context{
		Variables:  st.scope.VariablesSnapshot(),
		Session:    st.scope.SessionSnapshot(),
		EventType:  st.evt.EventType,
		ToolName:   toolName(st.evt),
		ToolInput:  toolInput(st.evt),
		Conditions: e.conditions(st),
	}
}

func toolName(evt hooks.HookEvent) string {
	name, _ := evt.Data["tool_name"].(string)
	return name
}

func toolInput(evt hooks.HookEvent) map[string]any {
	input, _ := evt.Data["tool_input"].(map[string]any)
	return input
}
