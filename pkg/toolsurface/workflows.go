package toolsurface

import (
	"context"
	"fmt"

	"github.com/gobby-dev/gobby/pkg/store"
)

func init() {
	register("workflows.activate_workflow", workflowsActivateWorkflow)
	register("workflows.end_workflow", workflowsEndWorkflow)
	register("workflows.set_variable", workflowsSetVariable)
	register("workflows.set_session_variable", workflowsSetSessionVariable)
	register("workflows.get_variable", workflowsGetVariable)
	register("workflows.list_active_workflows", workflowsListActiveWorkflows)
}

func (t *Toolbox) requireIndex() error {
	if t.index == nil {
		return fmt.Errorf("toolsurface: no workflow index configured")
	}
	return nil
}

// ActivateWorkflow implements workflows.activate_workflow: the same
// force-enable semantics engine.activateWorkflow applies from a
// trigger rule, available here as a direct agent-invoked tool call
// (spec.md §6.1).
func (t *Toolbox) ActivateWorkflow(ctx context.Context, sessionID, name string) (*store.WorkflowInstance, error) {
	if err := t.requireIndex(); err != nil {
		return nil, err
	}
	def, err := t.index.Lookup(name)
	if err != nil {
		return nil, err
	}
	return t.store.Workflows.Activate(ctx, &store.WorkflowInstance{
		SessionID:    sessionID,
		WorkflowName: def.Name,
		Enabled:      true,
		Priority:     def.Priority,
		Variables:    copyAnyMap(def.WorkflowVariables),
	})
}

func workflowsActivateWorkflow(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	instance, err := t.ActivateWorkflow(ctx, sessionID, argString(args, "workflow"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: activate_workflow: %w", err)
	}
	return map[string]any{"instance_id": instance.ID}, nil
}

func workflowsEndWorkflow(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	instance, err := t.store.Workflows.Get(ctx, sessionID, argString(args, "workflow"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: end_workflow: %w", err)
	}
	if err := t.store.Workflows.Deactivate(ctx, instance.ID); err != nil {
		return nil, fmt.Errorf("toolsurface: end_workflow: %w", err)
	}
	return nil, nil
}

// SetVariable implements workflows.set_variable(name,value,workflow?):
// workflow-scoped by default, falling back to the session's current
// instance of the named workflow.
func (t *Toolbox) SetVariable(ctx context.Context, sessionID, workflow, name string, value any) error {
	instance, err := t.store.Workflows.Get(ctx, sessionID, workflow)
	if err != nil {
		return err
	}
	vars := copyAnyMap(instance.Variables)
	vars[name] = value
	return t.store.Workflows.SetVariables(ctx, instance.ID, vars)
}

func workflowsSetVariable(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	err := t.SetVariable(ctx, sessionID, argString(args, "workflow"), argString(args, "name"), args["value"])
	if err != nil {
		return nil, fmt.Errorf("toolsurface: set_variable: %w", err)
	}
	return nil, nil
}

func workflowsSetSessionVariable(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	vars, err := t.store.SessionVars.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: set_session_variable: %w", err)
	}
	vars[argString(args, "name")] = args["value"]
	if err := t.store.SessionVars.Set(ctx, sessionID, vars); err != nil {
		return nil, fmt.Errorf("toolsurface: set_session_variable: %w", err)
	}
	return nil, nil
}

// GetVariable implements workflows.get_variable: a workflow-scoped read
// when workflow is given, else a session-scoped read.
func (t *Toolbox) GetVariable(ctx context.Context, sessionID, workflow, name string) (any, error) {
	if workflow != "" {
		instance, err := t.store.Workflows.Get(ctx, sessionID, workflow)
		if err != nil {
			return nil, err
		}
		return instance.Variables[name], nil
	}
	vars, err := t.store.SessionVars.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return vars[name], nil
}

func workflowsGetVariable(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	value, err := t.GetVariable(ctx, sessionID, argString(args, "workflow"), argString(args, "name"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_variable: %w", err)
	}
	return map[string]any{"value": value}, nil
}

func workflowsListActiveWorkflows(ctx context.Context, t *Toolbox, sessionID string, _ map[string]any) (map[string]any, error) {
	instances, err := t.store.Workflows.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: list_active_workflows: %w", err)
	}
	out := make([]map[string]any, 0, len(instances))
	for _, wi := range instances {
		if !wi.Enabled {
			continue
		}
		out = append(out, map[string]any{
			"workflow_name": wi.WorkflowName,
			"current_step":  derefStr(wi.CurrentStep),
			"priority":      wi.Priority,
		})
	}
	return map[string]any{"workflows": out}, nil
}

func copyAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
