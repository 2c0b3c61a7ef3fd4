package engine

import (
	"context"
	"log/slog"

	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/store"
)

// evaluateTriggerRules runs the first-block-wins rule list bound to
// this event type (spec.md §4.1 step 3b): the first rule whose `when`
// matches (or has none) fires; the rest of the block is skipped
// regardless of whether that rule's action blocked or not.
func (e *Engine) evaluateTriggerRules(ctx context.Context, st *evalState, wf *config.WorkflowDefinition, instance *store.WorkflowInstance) {
	for _, rule := range wf.Triggers[st.evt.EventType] {
		matched, err := e.evaluator.Eval(rule.When, e.evalContext(st))
		if err != nil {
			slog.Error("workflow: trigger rule when failed", "workflow", wf.Name, "action", rule.Action, "error", err)
			continue
		}
		if !matched {
			continue
		}
		if blocked, err := e.dispatch(ctx, st, instance, rule); err != nil {
			slog.Error("workflow: trigger action failed", "workflow", wf.Name, "action", rule.Action, "error", err)
		} else if blocked {
			st.blocked = true
		}
		return
	}
}

// findStep locates a named step within a workflow definition.
func findStep(wf *config.WorkflowDefinition, name string) *config.WorkflowStep {
	for i := range wf.Steps {
		if wf.Steps[i].Name == name {
			return &wf.Steps[i]
		}
	}
	return nil
}

// currentStepName resolves instance's live step, resetting to the
// first declared step (and implicitly clearing the step counter, by
// never restoring the old one) when current_step is unset or names a
// step the definition no longer has — the corrupt-state recovery
// spec.md §4.1 "Failure semantics" calls for.
func currentStepName(wf *config.WorkflowDefinition, instance *store.WorkflowInstance) string {
	if instance.CurrentStep != nil {
		if findStep(wf, *instance.CurrentStep) != nil {
			return *instance.CurrentStep
		}
	}
	if len(wf.Steps) == 0 {
		return ""
	}
	return wf.Steps[0].Name
}

// evaluateStepRules applies a step-tool-rule workflow's tool
// precedence to a before_tool event (spec.md §4.1 step 3c): explicit
// block > explicit allow > step allowed_tools > default allow. It has
// no effect outside before_tool — blocking after the tool already ran
// would be meaningless.
func (e *Engine) evaluateStepRules(ctx context.Context, st *evalState, wf *config.WorkflowDefinition, instance *store.WorkflowInstance) {
	if st.evt.EventType != "before_tool" {
		return
	}
	step := findStep(wf, currentStepName(wf, instance))
	if step == nil {
		return
	}
	tool := toolName(st.evt)
	input := toolInput(st.evt)
	evalCtx := e.evalContext(st)

	for _, rule := range step.Rules {
		if rule.Decision != "block" || !toolMatches(rule.Tool, tool) || !matchesSchema(rule.Schema, input) {
			continue
		}
		matched, err := e.evaluator.Eval(rule.When, evalCtx)
		if err != nil {
			slog.Error("workflow: tool rule when failed", "workflow", wf.Name, "tool", tool, "error", err)
			continue
		}
		if matched {
			st.blocked = true
			return
		}
	}
	for _, rule := range step.Rules {
		if rule.Decision != "allow" || !toolMatches(rule.Tool, tool) || !matchesSchema(rule.Schema, input) {
			continue
		}
		matched, err := e.evaluator.Eval(rule.When, evalCtx)
		if err != nil {
			slog.Error("workflow: tool rule when failed", "workflow", wf.Name, "tool", tool, "error", err)
			continue
		}
		if matched {
			return
		}
	}
	if len(step.AllowedTools) == 0 {
		return
	}
	for _, allowed := range step.AllowedTools {
		if allowed == tool {
			return
		}
	}
	st.blocked = true
}

func toolMatches(ruleTool, tool string) bool {
	return ruleTool == "*" || ruleTool == tool
}

// evaluateStepTransitions walks a step-tool-rule workflow's outgoing
// edges, firing on_exit/on_enter atomically on every match, bounded to
// maxStepTransitions consecutive hops in one event (spec.md §4.1 step
// 3d).
func (e *Engine) evaluateStepTransitions(ctx context.Context, st *evalState, wf *config.WorkflowDefinition, instance *store.WorkflowInstance) {
	name := currentStepName(wf, instance)
	evalCtx := e.evalContext(st)

	for hops := 0; hops < maxStepTransitions; hops++ {
		step := findStep(wf, name)
		if step == nil {
			return
		}
		next := ""
		for _, t := range step.Next {
			matched, err := e.evaluator.Eval(t.When, evalCtx)
			if err != nil {
				slog.Error("workflow: step transition when failed", "workflow", wf.Name, "step", step.Name, "error", err)
				continue
			}
			if matched {
				next = t.To
				break
			}
		}
		if next == "" {
			return
		}
		newStep := findStep(wf, next)
		if newStep == nil {
			slog.Error("workflow: step transition target not found", "workflow", wf.Name, "to", next)
			return
		}

		e.fireRules(ctx, st, instance, step.OnExit)
		e.fireRules(ctx, st, instance, newStep.OnEnter)
		if err := e.store.Workflows.EnterStep(ctx, instance.ID, next); err != nil {
			slog.Error("workflow: persist step transition failed", "workflow", wf.Name, "to", next, "error", err)
			return
		}
		instance.CurrentStep = &next
		name = next
	}
}

// fireRules runs every rule in a step's on_exit/on_enter list
// unconditionally (the guard already happened at the step level), in
// order, isolating each action's failure.
func (e *Engine) fireRules(ctx context.Context, st *evalState, instance *store.WorkflowInstance, rules []config.TriggerRule) {
	for _, rule := range rules {
		if blocked, err := e.dispatch(ctx, st, instance, rule); err != nil {
			slog.Error("workflow: step trigger action failed", "action", rule.Action, "error", err)
		} else if blocked {
			st.blocked = true
		}
	}
}

// evaluateObserver runs an observer workflow's trigger rules for
// read-only side effects (spec.md §4.1 step 4): it never contributes
// to the response's decision or injected context, only to variable
// state (e.g. track_progress, memory_recall/remember bookkeeping).
func (e *Engine) evaluateObserver(ctx context.Context, st *evalState, name string) {
	wf, err := e.index.Lookup(name)
	if err != nil {
		slog.Warn("workflow: observer not found", "name", name, "error", err)
		return
	}
	instance, err := e.ensureInstance(ctx, st.evt.SessionID, wf)
	if err != nil || !instance.Enabled {
		return
	}
	if err := st.scope.BindWorkflow(ctx, instance.ID, instance.Variables); err != nil {
		return
	}

	before := st.blocked
	beforeLen := len(st.context)
	beforeMsg := st.message
	e.evaluateTriggerRules(ctx, st, wf, instance)
	st.blocked = before
	st.context = st.context[:beforeLen]
	st.message = beforeMsg
}
