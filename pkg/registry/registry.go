// Package registry implements the Agent Registry & Spawner (spec.md
// §4.3): it tracks every AgentRun from spawn to termination, enforces
// agent-depth limits, and dispatches to the spawn-mode driver that
// matches an agent definition's spawn_mode, mirroring the shape of the
// teacher's WorkerPool (activeSessions map[string]context.CancelFunc
// guarded by a mutex), generalized from one mode to four.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

// DefaultMaxAgentDepth is used when an agent definition leaves
// max_agent_depth unset (spec.md §9 Open Question 1).
const DefaultMaxAgentDepth = 1

// SpawnParams is the start_agent tool's input (spec.md §4.3).
type SpawnParams struct {
	ParentSessionID   string
	AgentDefinition   string
	Workflow          string
	TaskID            *string
	Prompt            string
	WorktreeID        *string
	PartyID           *string
	Variables         map[string]any
	Timeout           time.Duration
	IsolationOverride string
}

// SpawnResult is the start_agent tool's output.
type SpawnResult struct {
	RunID     string
	SessionID string
	ChildFD   int // embedded mode only; 0 otherwise
}

// Registry tracks in-flight AgentRuns and dispatches spawns to the
// driver matching each agent definition's spawn_mode.
type Registry struct {
	store   *store.Store
	agents  *config.AgentDefinitionRegistry
	bus     *bus.Bus
	drivers map[string]spawner.Driver

	mu      sync.Mutex
	handles map[string]*spawner.Handle    // run_id -> live handle
	cancels map[string]context.CancelFunc // run_id -> cancel for the driver's long-lived spawn context
}

// New constructs a Registry wired against the given drivers, keyed by
// the spawn_mode string they implement ("in_process", "headless",
// "terminal", "embedded").
func New(st *store.Store, agents *config.AgentDefinitionRegistry, b *bus.Bus, drivers map[string]spawner.Driver) *Registry {
	return &Registry{
		store:   st,
		agents:  agents,
		bus:     b,
		drivers: drivers,
		handles: make(map[string]*spawner.Handle),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Spawn creates an AgentRun (and child Session, where applicable),
// enforces agent-depth, and dispatches to the matching driver
// (spec.md §4.3 "Spawn contract").
func (r *Registry) Spawn(ctx context.Context, p SpawnParams) (*SpawnResult, error) {
	def, err := r.agents.Lookup(p.AgentDefinition)
	if err != nil {
		return nil, fmt.Errorf("registry: lookup agent definition: %w", err)
	}

	maxDepth := def.MaxAgentDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxAgentDepth
	}
	parent, err := r.store.Sessions.Get(ctx, p.ParentSessionID)
	if err != nil {
		return nil, fmt.Errorf("registry: get parent session: %w", err)
	}
	childDepth, err := r.store.Sessions.IncrementAgentDepth(ctx, parent.ID, maxDepth)
	if err != nil {
		return nil, err // store.ErrDepthExceeded surfaces as-is
	}

	var projectID string
	if parent.ProjectID != nil {
		projectID = *parent.ProjectID
	}

	worktreeID := p.WorktreeID
	if worktreeID == nil && (def.SpawnMode == "terminal" || def.SpawnMode == "embedded") {
		wt, err := r.store.Worktrees.Create(ctx, &store.Worktree{
			ProjectID:      projectID,
			TaskID:         p.TaskID,
			AgentSessionID: &parent.ID,
			IsolationMode:  isolationModeOrDefault(p.IsolationOverride, def.WorktreeIsolation),
		})
		if err != nil {
			return nil, fmt.Errorf("registry: create worktree: %w", err)
		}
		worktreeID = &wt.ID
	}

	var workflowName *string
	if p.Workflow != "" {
		workflowName = &p.Workflow
	}
	run, err := r.store.AgentRuns.Create(ctx, &store.AgentRun{
		ParentSessionID: p.ParentSessionID,
		WorkflowName:    workflowName,
		Provider:        def.Source,
		Mode:            def.SpawnMode,
		Prompt:          p.Prompt,
		WorktreeID:      worktreeID,
		PartyID:         p.PartyID,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: create agent run: %w", err)
	}

	childSession, err := r.store.Sessions.Create(ctx, &store.Session{
		ProjectID:        &projectID,
		ParentSessionID:  &parent.ID,
		SpawnedByAgentID: &run.ID,
		AgentDepth:       childDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: create child session: %w", err)
	}

	driver, ok := r.drivers[def.SpawnMode]
	if !ok {
		return nil, fmt.Errorf("registry: no driver registered for spawn mode %q", def.SpawnMode)
	}

	// The driver's context governs the child's lifetime, not this
	// Spawn call's: a headless/embedded *exec.Cmd tied to ctx would be
	// killed the instant this RPC returns. It only ends via Terminate
	// or the run's own natural exit.
	spawnCtx, cancel := context.WithCancel(context.Background())
	handle, err := driver.Start(spawnCtx, spawner.Spawn{
		Command:   def.Command,
		Args:      def.Args,
		Prompt:    markerPreamble(childSession.ID) + p.Prompt,
		SessionID: childSession.ID,
	})
	if err != nil {
		cancel()
		_ = r.store.AgentRuns.Finish(ctx, run.ID, store.AgentRunStatusError, nil)
		return nil, fmt.Errorf("registry: start driver: %w", err)
	}

	r.mu.Lock()
	r.handles[run.ID] = handle
	r.cancels[run.ID] = cancel
	r.mu.Unlock()

	if err := r.store.AgentRuns.MarkRunning(ctx, run.ID, childSession.ID); err != nil {
		return nil, fmt.Errorf("registry: mark run running: %w", err)
	}
	r.emit(bus.EventTypeAgentRunStatus, childSession.ID, map[string]any{"run_id": run.ID, "status": "running"})

	fd := 0
	if f, ok := handle.PTYFile.(interface{ Fd() uintptr }); ok {
		fd = int(f.Fd())
	}
	return &SpawnResult{RunID: run.ID, SessionID: childSession.ID, ChildFD: fd}, nil
}

// TerminateResult is kill_agent/cancel_agent's output (spec.md §8
// boundary behavior: "Killing an already-dead agent returns success
// with already_dead=true").
type TerminateResult struct {
	AlreadyDead bool
}

// Terminate implements kill_agent (spec.md §4.3): polite signal,
// waiting up to grace before escalating, abstracted behind
// spawner.Driver.Terminate. For a terminal-mode run whose Handle.PID
// hasn't been discovered yet, it runs the PID-discovery algorithm
// itself — spec.md §4.3 specifies discovery happens "on termination
// request", not as an eager backfill at spawn time.
func (r *Registry) Terminate(ctx context.Context, runID string, style spawner.TerminateStyle, grace time.Duration) (*TerminateResult, error) {
	run, err := r.store.AgentRuns.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if isTerminalRunStatus(run.Status) {
		return &TerminateResult{AlreadyDead: true}, nil
	}

	r.mu.Lock()
	handle, ok := r.handles[runID]
	cancel := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		// The driver already reported this run's exit and Finish beat
		// us to cleaning up its handle; nothing left to signal.
		return &TerminateResult{AlreadyDead: true}, nil
	}

	pidMissed := false
	if run.Mode == "terminal" && handle.PID == 0 {
		sess, err := r.store.Sessions.Get(ctx, deref(run.ChildSessionID))
		if err != nil {
			return nil, fmt.Errorf("registry: terminate run %s: get session: %w", runID, err)
		}
		pid, err := DiscoverPID(ctx, sess)
		switch {
		case errors.Is(err, ErrPIDUnreachable):
			// spec.md §4.3 step 3: mark the run killed and note the PID
			// miss rather than failing the call.
			pidMissed = true
		case err != nil:
			return nil, fmt.Errorf("registry: terminate run %s: discover pid: %w", runID, err)
		default:
			handle.PID = pid
			if err := r.store.Sessions.RecordTerminalPID(ctx, sess.ID, pid); err != nil {
				return nil, fmt.Errorf("registry: terminate run %s: record pid: %w", runID, err)
			}
		}
	}

	if !pidMissed {
		driver, ok := r.drivers[run.Mode]
		if !ok {
			return nil, fmt.Errorf("registry: no driver registered for spawn mode %q", run.Mode)
		}
		if grace <= 0 {
			grace = spawner.DefaultGrace
		}
		if err := driver.Terminate(ctx, handle, style, grace); err != nil {
			return nil, fmt.Errorf("registry: terminate run %s: %w", runID, err)
		}
	}
	if cancel != nil {
		cancel()
	}

	r.mu.Lock()
	delete(r.handles, runID)
	delete(r.cancels, runID)
	r.mu.Unlock()

	if err := r.store.AgentRuns.Finish(ctx, runID, store.AgentRunStatusKilled, nil); err != nil {
		return nil, err
	}
	r.emit(bus.EventTypeAgentRunStatus, deref(run.ChildSessionID), map[string]any{"run_id": runID, "status": "killed"})
	return &TerminateResult{}, nil
}

func isTerminalRunStatus(status string) bool {
	switch status {
	case store.AgentRunStatusCompleted, store.AgentRunStatusCancelled, store.AgentRunStatusKilled,
		store.AgentRunStatusError, store.AgentRunStatusTimeout:
		return true
	}
	return false
}

// Finish records a self-reported completion or failure (agents.complete
// and the registry's own detection of a driver exiting), transitioning
// the run to a terminal status and emitting a lifecycle event.
func (r *Registry) Finish(ctx context.Context, runID, status string, result map[string]any) error {
	if err := r.store.AgentRuns.Finish(ctx, runID, status, result); err != nil {
		return err
	}
	run, err := r.store.AgentRuns.Get(ctx, runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if cancel, ok := r.cancels[runID]; ok {
		cancel()
	}
	delete(r.handles, runID)
	delete(r.cancels, runID)
	r.mu.Unlock()
	r.emit(bus.EventTypeAgentRunStatus, deref(run.ChildSessionID), map[string]any{"run_id": runID, "status": status})
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// emit publishes a lifecycle event on both the run's session channel
// and the global channel: the Party Scheduler and Task Graph subscribe
// globally since they don't know a run's session id ahead of its
// spawn, while a connected dashboard can narrow to one session's feed
// (spec.md §4.3 "Lifecycle events").
func (r *Registry) emit(eventType, sessionID string, data map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Type: eventType, Channel: bus.GlobalChannel, Data: data})
	if sessionID != "" {
		r.bus.Publish(bus.Event{Type: eventType, Channel: bus.SessionChannel(sessionID), Data: data})
	}
}

func isolationModeOrDefault(override, fallback string) string {
	if override != "" {
		return override
	}
	if fallback != "" {
		return fallback
	}
	return "worktree"
}

// markerPreamble is prepended to every terminal/embedded/headless
// spawn's prompt so PID discovery can find the right process by
// command-line search when no hook deposits a parent_pid (spec.md
// §6.4).
func markerPreamble(sessionID string) string {
	return fmt.Sprintf("Your Gobby session_id is: %s\n\n", sessionID)
}
