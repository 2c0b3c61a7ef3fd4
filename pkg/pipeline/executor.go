// Package pipeline implements the Pipeline Executor (spec.md §4.7):
// a deterministic ordered step runner, grounded on the teacher's
// queue.Worker claim→execute→finalize sequence (pkg/queue/worker.go),
// generalized from one fixed job shape to six declarative step kinds.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

// ToolInvoker is the seam an `mcp` step dispatches through. Declared
// here rather than imported from pkg/toolsurface, the same forward-
// reference seam pattern pkg/workflow/engine uses for its own
// ToolInvoker.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, sessionID, tool string, args map[string]any) (map[string]any, error)
}

// WorkflowActivator is the seam an `activate_workflow` step looks its
// target definition up through; the activation itself goes through the
// ToolInvoker (see runActivateWorkflow).
type WorkflowActivator interface {
	Lookup(name string) (*config.WorkflowDefinition, error)
}

// PipelineIndex resolves a pipeline definition by name; satisfied by
// *index.Index's new Pipelines() accessor without this package
// importing pkg/workflow/index, keeping pkg/pipeline and
// pkg/workflow/index free of a mutual dependency.
type PipelineIndex interface {
	Lookup(name string) (*config.PipelineDefinition, error)
}

// Prompter is the seam a `prompt` step dispatches through: a one-shot
// LLM call. The actual LLM SDK integration is out of scope (spec.md
// §1), the same "Run is a seam a caller fills in" pattern
// spawner.InProcessDriver documents for its own LLM call; a nil
// Prompter fails only the single prompt step it's needed for, per
// spec.md §4.1's "Failure semantics" isolation.
type Prompter interface {
	Prompt(ctx context.Context, sessionID, text string) (string, error)
}

// Executor runs PipelineDefinitions step by step, persisting progress
// through store.PipelineRunManager so a `require_approval` step can
// park the run and a later call with the same resume token can pick up
// where it left off.
type Executor struct {
	runs      *store.PipelineRunManager
	agentRuns *store.AgentRunManager
	pipelines PipelineIndex
	workflows WorkflowActivator
	registry  *registry.Registry
	tools     ToolInvoker
	prompter  Prompter
}

// New constructs an Executor. tools and prompter may be nil; any
// pipeline that reaches an mcp or prompt step without one configured
// fails that step, per the ToolInvoker/Prompter doc comments above.
func New(runs *store.PipelineRunManager, agentRuns *store.AgentRunManager, pipelines PipelineIndex, workflows WorkflowActivator, reg *registry.Registry, tools ToolInvoker, prompter Prompter) *Executor {
	return &Executor{
		runs:      runs,
		agentRuns: agentRuns,
		pipelines: pipelines,
		workflows: workflows,
		registry:  reg,
		tools:     tools,
		prompter:  prompter,
	}
}

// Run implements the engine.PipelineRunner seam run_pipeline dispatches
// through. If args carries a "resume_token" key, Run resumes a parked
// run at the step following its parked gate instead of starting fresh
// (spec.md §4.7 "the workflow engine can resume it on event").
func (e *Executor) Run(ctx context.Context, sessionID, pipelineName string, args map[string]any) (bool, string, error) {
	def, err := e.pipelines.Lookup(pipelineName)
	if err != nil {
		return false, "", fmt.Errorf("pipeline: lookup %q: %w", pipelineName, err)
	}

	var run *store.PipelineRun
	resumeIdx := -1
	if token, ok := args["resume_token"].(string); ok && token != "" {
		run, err = e.runs.GetByToken(ctx, token)
		if err != nil {
			return false, "", fmt.Errorf("pipeline: resume %q: %w", pipelineName, err)
		}
		if run.Status != store.PipelineRunStatusParked {
			return false, "", fmt.Errorf("pipeline: run %s is not parked (status %s)", run.ID, run.Status)
		}
		if err := e.runs.Resume(ctx, run.ID); err != nil {
			return false, "", fmt.Errorf("pipeline: resume %q: %w", pipelineName, err)
		}
		resumeIdx = run.StepIndex
	} else {
		run, err = e.runs.Create(ctx, sessionID, pipelineName, args)
		if err != nil {
			return false, "", fmt.Errorf("pipeline: create run for %q: %w", pipelineName, err)
		}
	}

	for i := run.StepIndex; i < len(def.Steps); i++ {
		step := def.Steps[i]

		// An approval gate parks the run before its own step body
		// executes, unless this call is the resume that is specifically
		// picking the run back up at this very index (it already waited
		// out the gate to get here).
		if step.RequireApproval && i != resumeIdx {
			if err := e.runs.Park(ctx, run.ID, i, run.Output); err != nil {
				return false, "", fmt.Errorf("pipeline: park %q at step %q: %w", pipelineName, step.Name, err)
			}
			return true, run.ResumeToken, nil
		}

		stepCtx, cancel := context.WithTimeout(ctx, defaultStepBudget)
		result, err := e.runStep(stepCtx, sessionID, run, step)
		cancel()
		if err != nil {
			failErr := fmt.Errorf("pipeline: step %q: %w", step.Name, err)
			_ = e.runs.Fail(ctx, run.ID, run.Output, failErr)
			return false, "", failErr
		}
		run.Output[step.Name] = result
	}

	if err := e.runs.Complete(ctx, run.ID, run.Output); err != nil {
		return false, "", fmt.Errorf("pipeline: complete %q: %w", pipelineName, err)
	}
	return false, "", nil
}

// defaultStepBudget bounds one step's execution, mirroring the
// engine's defaultActionBudget (spec.md §4.1 "Cancellation/timeouts"):
// a single hung exec/mcp/prompt step fails that step rather than
// wedging the whole pipeline run forever.
const defaultStepBudget = 60 * time.Second

func (e *Executor) runStep(ctx context.Context, sessionID string, run *store.PipelineRun, step config.PipelineStep) (any, error) {
	switch step.Kind {
	case "exec":
		return e.runExec(ctx, step)
	case "prompt":
		return e.runPrompt(ctx, sessionID, step)
	case "mcp":
		return e.runMCP(ctx, sessionID, step)
	case "invoke_pipeline":
		return e.runInvokePipeline(ctx, sessionID, step)
	case "spawn_session":
		return e.runSpawnSession(ctx, sessionID, run, step)
	case "activate_workflow":
		return e.runActivateWorkflow(ctx, sessionID, step)
	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func withString(with map[string]any, key string) string {
	v, _ := with[key].(string)
	return v
}

// runExec shells out to an external program, the way headless mode's
// driver launches a CLI process — exec.CommandContext bounds the call
// to the step's own timeout rather than a driver's whole lifetime.
func (e *Executor) runExec(ctx context.Context, step config.PipelineStep) (any, error) {
	command := withString(step.With, "command")
	if command == "" {
		return nil, fmt.Errorf("exec: missing command")
	}
	var args []string
	if raw, ok := step.With["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}
	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("exec %q: %w: %s", command, err, out)
	}
	return map[string]any{"output": string(out)}, nil
}

func (e *Executor) runPrompt(ctx context.Context, sessionID string, step config.PipelineStep) (any, error) {
	if e.prompter == nil {
		return nil, fmt.Errorf("prompt: no prompter configured")
	}
	text := withString(step.With, "text")
	if text == "" {
		return nil, fmt.Errorf("prompt: missing text")
	}
	reply, err := e.prompter.Prompt(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reply": reply}, nil
}

func (e *Executor) runMCP(ctx context.Context, sessionID string, step config.PipelineStep) (any, error) {
	if e.tools == nil {
		return nil, fmt.Errorf("mcp: no tool invoker configured")
	}
	tool := withString(step.With, "tool")
	if tool == "" {
		return nil, fmt.Errorf("mcp: missing tool")
	}
	args, _ := step.With["args"].(map[string]any)
	return e.tools.InvokeTool(ctx, sessionID, tool, args)
}

// runInvokePipeline recurses into Run for a nested pipeline; a nested
// pipeline that parks surfaces the same parked/token pair, propagating
// the approval gate up to the outer pipeline's own caller.
func (e *Executor) runInvokePipeline(ctx context.Context, sessionID string, step config.PipelineStep) (any, error) {
	name := withString(step.With, "pipeline")
	if name == "" {
		return nil, fmt.Errorf("invoke_pipeline: missing pipeline")
	}
	args, _ := step.With["args"].(map[string]any)
	parked, token, err := e.Run(ctx, sessionID, name, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"parked": parked, "resume_token": token}, nil
}

// runSpawnSession spawns an agent via the Agent Registry and, when
// with.wait_for is true, blocks until the spawned run reaches a
// terminal status (spec.md §4.7's "optionally wait for its
// exit_condition" — this executor waits for run completion rather than
// evaluating a free-form exit_condition expression against the
// pipeline's own context, a deliberate scope narrowing recorded in the
// design ledger).
func (e *Executor) runSpawnSession(ctx context.Context, sessionID string, run *store.PipelineRun, step config.PipelineStep) (any, error) {
	if e.registry == nil {
		return nil, fmt.Errorf("spawn_session: no registry configured")
	}
	agentDef := withString(step.With, "agent_definition")
	if agentDef == "" {
		return nil, fmt.Errorf("spawn_session: missing agent_definition")
	}
	prompt := withString(step.With, "prompt")
	workflow := withString(step.With, "workflow")

	result, err := e.registry.Spawn(ctx, registry.SpawnParams{
		ParentSessionID: sessionID,
		AgentDefinition: agentDef,
		Workflow:        workflow,
		Prompt:          prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn_session: %w", err)
	}

	waitFor, _ := step.With["wait_for"].(bool)
	if !waitFor {
		return map[string]any{"run_id": result.RunID, "session_id": result.SessionID}, nil
	}
	return e.awaitRun(ctx, result)
}

// terminalAgentRunStatuses are the AgentRun statuses awaitRun treats
// as "done", mirroring store.AgentRunManager.ListRunning's own
// pending/running exclusion list in reverse.
var terminalAgentRunStatuses = map[string]bool{
	store.AgentRunStatusCompleted: true,
	store.AgentRunStatusError:     true,
	store.AgentRunStatusKilled:    true,
	store.AgentRunStatusCancelled: true,
	store.AgentRunStatusTimeout:   true,
}

// awaitRun polls the spawned run until it reaches a terminal status or
// ctx is cancelled; on cancellation it force-terminates the child
// (spec.md §4.7 "cancelling a pipeline ... propagates cancellation to
// a spawned child whose run it is awaiting").
func (e *Executor) awaitRun(ctx context.Context, result *registry.SpawnResult) (any, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		run, err := e.agentRuns.Get(ctx, result.RunID)
		if err != nil {
			return nil, fmt.Errorf("spawn_session: await run: %w", err)
		}
		if terminalAgentRunStatuses[run.Status] {
			return map[string]any{"run_id": result.RunID, "session_id": result.SessionID, "status": run.Status, "result": run.Result}, nil
		}
		select {
		case <-ctx.Done():
			_, _ = e.registry.Terminate(context.Background(), result.RunID, spawner.TerminateForce, 0)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runActivateWorkflow activates a workflow on the current session, the
// pipeline-step twin of the engine's activate_workflow action: it looks
// the definition up, then instantiates the WorkflowInstance by invoking
// the workflows.activate_workflow tool through the ToolInvoker rather
// than writing the table directly, so it fails without a ToolInvoker.
func (e *Executor) runActivateWorkflow(ctx context.Context, sessionID string, step config.PipelineStep) (any, error) {
	name := withString(step.With, "workflow")
	if name == "" {
		return nil, fmt.Errorf("activate_workflow: missing workflow")
	}
	if _, err := e.workflows.Lookup(name); err != nil {
		return nil, fmt.Errorf("activate_workflow: %w", err)
	}
	if e.tools == nil {
		return nil, fmt.Errorf("activate_workflow: no tool invoker configured")
	}
	return e.tools.InvokeTool(ctx, sessionID, "workflows.activate_workflow", map[string]any{"workflow": name})
}
