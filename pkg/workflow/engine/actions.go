package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/store"
)

// actionFunc performs one trigger rule's action against the running
// evaluation state. It returns whether this action decides to block
// the event, and any execution error — an error never implies a
// block, matching spec.md §4.1 "Failure semantics": a failing rule
// never silently changes decision from block to allow, nor does it
// invent one.
type actionFunc func(ctx context.Context, e *Engine, st *evalState, instance *store.WorkflowInstance, rule config.TriggerRule) (bool, error)

// actions is the dispatch table spec.md §4.1 step 3b's
// action list names, one handler per action name.
var actions = map[string]actionFunc{
	"inject_context":          injectContext,
	"inject_message":          injectMessage,
	"block_tools":             blockTools,
	"block_stop":              blockStop,
	"set_variable":            setVariable,
	"set_session_variable":    setSessionVariable,
	"call_mcp_tool":           callMCPTool,
	"run_pipeline":            runPipeline,
	"activate_workflow":       activateWorkflow,
	"end_workflow":            endWorkflow,
	"extract_handoff_context": extractHandoffContext,
	"memory_recall":           memoryRecall,
	"remember":                remember,
	"track_progress":          trackProgress,
	"check_stop_signal":       checkStopSignal,
}

// dispatch looks up rule.Action in the table and runs it, isolating an
// unknown action name as an execution error rather than a panic.
func (e *Engine) dispatch(ctx context.Context, st *evalState, instance *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	fn, ok := actions[rule.Action]
	if !ok {
		return false, fmt.Errorf("workflow: unknown action %q", rule.Action)
	}
	if rule.Action == "call_mcp_tool" || rule.Action == "run_pipeline" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultActionBudget*time.Second)
		defer cancel()
	}
	return fn(ctx, e, st, instance, rule)
}

func withString(rule config.TriggerRule, key string) string {
	v, _ := rule.With[key].(string)
	return v
}

func injectContext(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	text := withString(rule, "text")
	if text == "" {
		return false, nil
	}
	st.context = append(st.context, text)
	return false, nil
}

func injectMessage(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	text := withString(rule, "message")
	if text == "" {
		return false, nil
	}
	if st.message == "" {
		st.message = text
	} else {
		st.message += "\n" + text
	}
	return false, nil
}

// blockTools blocks the current before_tool event outright; the
// specific-tool allow/block precedence belongs to step rules
// (evaluateStepRules), not this trigger-level action.
func blockTools(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	if reason := withString(rule, "reason"); reason != "" {
		st.context = append(st.context, reason)
	}
	return true, nil
}

func blockStop(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	if reason := withString(rule, "reason"); reason != "" {
		st.message = reason
	}
	return true, nil
}

func setVariable(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	name := withString(rule, "name")
	if name == "" {
		return false, errors.New("set_variable: missing name")
	}
	value := rule.With["value"]
	st.scope.SetVariable(name, value)
	st.varsUpdated[name] = value
	return false, nil
}

func setSessionVariable(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	name := withString(rule, "name")
	if name == "" {
		return false, errors.New("set_session_variable: missing name")
	}
	st.scope.SetSessionVariable(name, rule.With["value"])
	return false, nil
}

func callMCPTool(ctx context.Context, e *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	if e.tools == nil {
		return false, errors.New("call_mcp_tool: no tool invoker configured")
	}
	tool := withString(rule, "tool")
	if tool == "" {
		return false, errors.New("call_mcp_tool: missing tool")
	}
	args, _ := rule.With["args"].(map[string]any)
	if schemaDoc, ok := rule.With["schema"].(map[string]any); ok {
		if err := validateAgainstSchema(schemaDoc, args); err != nil {
			return false, fmt.Errorf("call_mcp_tool: %w", err)
		}
	}
	_, err := e.tools.InvokeTool(ctx, st.evt.SessionID, tool, args)
	return false, err
}

func runPipeline(ctx context.Context, e *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	if e.pipelines == nil {
		return false, errors.New("run_pipeline: no pipeline runner configured")
	}
	name := withString(rule, "pipeline")
	if name == "" {
		return false, errors.New("run_pipeline: missing pipeline")
	}
	args, _ := rule.With["args"].(map[string]any)
	parked, token, err := e.pipelines.Run(ctx, st.evt.SessionID, name, args)
	if err != nil {
		return false, err
	}
	if parked {
		st.context = append(st.context, fmt.Sprintf("pipeline %q parked awaiting approval (resume token %s)", name, token))
	}
	return false, nil
}

// activateWorkflow enables another workflow definition's instance for
// this session, forcing enabled=true regardless of its own
// enabled_default — the whole point of an explicit activate_workflow
// action is to turn on a workflow that starts disabled.
func activateWorkflow(ctx context.Context, e *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	name := withString(rule, "workflow")
	if name == "" {
		return false, errors.New("activate_workflow: missing workflow")
	}
	target, err := e.index.Lookup(name)
	if err != nil {
		return false, err
	}
	_, err = e.store.Workflows.Activate(ctx, &store.WorkflowInstance{
		SessionID:    st.evt.SessionID,
		WorkflowName: target.Name,
		Enabled:      true,
		Priority:     target.Priority,
		Variables:    copyAnyMap(target.WorkflowVariables),
	})
	return false, err
}

// endWorkflow deactivates the workflow instance currently iterating
// (spec.md §4.1's actions list "end_workflow"), deleting its step state
// and workflow-scoped variables but leaving session variables intact.
func endWorkflow(ctx context.Context, e *Engine, st *evalState, instance *store.WorkflowInstance, _ config.TriggerRule) (bool, error) {
	return false, e.store.Workflows.Deactivate(ctx, instance.ID)
}

// extractHandoffContext copies the workflow's current variables into a
// session variable so a subsequently spawned agent (which starts with
// no workflow-scoped state of its own) can read the handing-off
// agent's context (spec.md §4.D "spawn with context handoff").
func extractHandoffContext(_ context.Context, _ *Engine, st *evalState, instance *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	key := withString(rule, "key")
	if key == "" {
		key = "handoff_context"
	}
	st.scope.SetSessionVariable(key, copyAnyMap(instance.Variables))
	return false, nil
}

// memory_recall/remember implement a minimal namespaced key-value
// memory over session variables (memory:<key>); no vector/embedding
// library appears anywhere in the example pack, so semantic recall is
// out of reach here — this is the literal, grounded-in-store fallback,
// noted as a deliberate stdlib-only implementation in the design
// ledger.
const memoryKeyPrefix = "memory:"

func memoryRecall(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	key := withString(rule, "key")
	if key == "" {
		return false, errors.New("memory_recall: missing key")
	}
	as := withString(rule, "as")
	if as == "" {
		as = key
	}
	value, _ := st.scope.GetSessionVariable(memoryKeyPrefix + key)
	st.scope.SetVariable(as, value)
	return false, nil
}

func remember(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	key := withString(rule, "key")
	if key == "" {
		return false, errors.New("remember: missing key")
	}
	st.scope.SetSessionVariable(memoryKeyPrefix+key, rule.With["value"])
	return false, nil
}

// trackProgress records a named progress marker as a session
// variable, the "tracking task-claim state" example spec.md §4.1 gives
// for observer actions.
func trackProgress(_ context.Context, _ *Engine, st *evalState, _ *store.WorkflowInstance, rule config.TriggerRule) (bool, error) {
	name := withString(rule, "name")
	if name == "" {
		return false, errors.New("track_progress: missing name")
	}
	value := rule.With["value"]
	if value == nil {
		value = true
	}
	st.scope.SetSessionVariable("progress:"+name, value)
	return false, nil
}

// checkStopSignal blocks the event if an unhandled stop signal (global
// or session-scoped) is pending, the workflow-facing surface over
// store.StopSignalManager.Active.
func checkStopSignal(ctx context.Context, e *Engine, st *evalState, _ *store.WorkflowInstance, _ config.TriggerRule) (bool, error) {
	active, err := e.store.StopSignals.Active(ctx, st.evt.SessionID)
	if err != nil {
		return false, err
	}
	return active, nil
}
