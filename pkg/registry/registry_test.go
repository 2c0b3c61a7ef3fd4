package registry

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping registry integration test in -short mode")
	}
	ctx := context.Background()

	cfg := store.Config{
		Host: "localhost", Port: 5432, User: "test", Password: "test",
		Database: "test", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}

	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
	} else {
		t.Log("using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase(cfg.Database),
			postgres.WithUsername(cfg.User),
			postgres.WithPassword(cfg.Password),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		host, err := pgContainer.Host(ctx)
		require.NoError(t, err)
		port, err := pgContainer.MappedPort(ctx, "5432")
		require.NoError(t, err)
		cfg.Host = host
		cfg.Port = port.Int()
	}

	s, err := store.NewStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// newTestAgents loads an AgentDefinitionRegistry through the real
// config loader rather than poking at its unexported fields, exactly
// the way pkg/config's own tests drive Load with a temp project dir.
func newTestAgents(t *testing.T, yaml string) *config.AgentDefinitionRegistry {
	t.Helper()
	projectDir := t.TempDir()
	dir := projectDir + "/agents"
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(dir+"/agents.yaml", []byte(yaml), 0o644))

	cfg, err := config.Load(config.Dirs{UserDir: t.TempDir(), ProjectDir: projectDir}, nil)
	require.NoError(t, err)
	return cfg.Agents
}

func TestRegistry_SpawnEnforcesDepthAndEmitsLifecycleEvent(t *testing.T) {
	s := newTestStore(t)
	agents := newTestAgents(t, `
- name: reviewer
  source: claude
  spawn_mode: in_process
  max_agent_depth: 1
`)
	b := bus.NewBus(time.Second)
	sub, unsubscribe := b.Subscribe(bus.GlobalChannel)
	defer unsubscribe()

	started := make(chan struct{}, 1)
	driver := &spawner.InProcessDriver{Run: func(ctx context.Context, spawn spawner.Spawn) error {
		started <- struct{}{}
		<-ctx.Done()
		return nil
	}}
	r := New(s, agents, b, map[string]spawner.Driver{"in_process": driver})

	ctx := context.Background()
	parent, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	res, err := r.Spawn(ctx, SpawnParams{ParentSessionID: parent.ID, AgentDefinition: "reviewer", Prompt: "review this diff"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.NotEmpty(t, res.SessionID)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("driver never started")
	}

	run, err := s.AgentRuns.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentRunStatusRunning, run.Status)

	updatedParent, err := s.Sessions.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updatedParent.AgentDepth)

	select {
	case evt := <-sub:
		assert.Equal(t, bus.EventTypeAgentRunStatus, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a lifecycle event on the global channel")
	}

	// A second spawn from the same (now depth-1) parent must be refused:
	// max_agent_depth is 1 and the parent has already used its one hop.
	_, err = r.Spawn(ctx, SpawnParams{ParentSessionID: parent.ID, AgentDefinition: "reviewer", Prompt: "again"})
	assert.ErrorIs(t, err, store.ErrDepthExceeded)
}

func TestRegistry_TerminateCancelsInProcessRunAndMarksKilled(t *testing.T) {
	s := newTestStore(t)
	agents := newTestAgents(t, `
- name: worker
  source: claude
  spawn_mode: in_process
`)
	ctx := context.Background()
	parent, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	cancelled := make(chan struct{})
	driver := &spawner.InProcessDriver{Run: func(ctx context.Context, spawn spawner.Spawn) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}
	r := New(s, agents, nil, map[string]spawner.Driver{"in_process": driver})

	res, err := r.Spawn(ctx, SpawnParams{ParentSessionID: parent.ID, AgentDefinition: "worker", Prompt: "do work"})
	require.NoError(t, err)

	result, err := r.Terminate(ctx, res.RunID, spawner.TerminatePolite, time.Second)
	require.NoError(t, err)
	assert.False(t, result.AlreadyDead)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in_process run was never cancelled")
	}

	run, err := s.AgentRuns.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentRunStatusKilled, run.Status)
}

// TestRegistry_TerminateAnAlreadyDeadRunReturnsSuccess covers spec.md
// §8's boundary behavior: killing an already-dead agent returns success
// with already_dead=true rather than an error.
func TestRegistry_TerminateAnAlreadyDeadRunReturnsSuccess(t *testing.T) {
	s := newTestStore(t)
	agents := newTestAgents(t, `
- name: worker
  source: claude
  spawn_mode: in_process
`)
	ctx := context.Background()
	parent, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	driver := &spawner.InProcessDriver{Run: func(ctx context.Context, spawn spawner.Spawn) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	r := New(s, agents, nil, map[string]spawner.Driver{"in_process": driver})

	res, err := r.Spawn(ctx, SpawnParams{ParentSessionID: parent.ID, AgentDefinition: "worker", Prompt: "do work"})
	require.NoError(t, err)

	first, err := r.Terminate(ctx, res.RunID, spawner.TerminateForce, 0)
	require.NoError(t, err)
	assert.False(t, first.AlreadyDead)

	second, err := r.Terminate(ctx, res.RunID, spawner.TerminateForce, 0)
	require.NoError(t, err)
	assert.True(t, second.AlreadyDead)
}

// TestRegistry_TerminateDiscoversPIDForTerminalModeRun covers the
// terminal-mode path spec.md §4.3's PID-discovery algorithm describes:
// Handle.PID starts at zero, and Terminate must discover it itself "on
// termination request" rather than require it pre-populated.
func TestRegistry_TerminateDiscoversPIDForTerminalModeRun(t *testing.T) {
	s := newTestStore(t)
	agents := newTestAgents(t, `
- name: terminal-worker
  source: claude
  spawn_mode: terminal
`)
	ctx := context.Background()
	parent, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	// A real, otherwise-idle child process this test owns, standing in
	// for the terminal emulator's child the marker/hook would normally
	// identify — exercising the actual OS-signal path in
	// terminateProcess without touching any unrelated process.
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	childPID := cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	launched := make(chan struct{}, 1)
	driver := &spawner.TerminalDriver{Launcher: fakeTerminalLauncher{onLaunch: func() { launched <- struct{}{} }}}
	r := New(s, agents, nil, map[string]spawner.Driver{"terminal": driver})

	res, err := r.Spawn(ctx, SpawnParams{ParentSessionID: parent.ID, AgentDefinition: "terminal-worker", Prompt: "do work"})
	require.NoError(t, err)

	select {
	case <-launched:
	case <-time.After(time.Second):
		t.Fatal("terminal launcher never invoked")
	}

	// Simulate the CLI's session-start hook depositing the real child's
	// PID before kill_agent is ever called.
	require.NoError(t, s.Sessions.RecordTerminalPID(ctx, res.SessionID, childPID))

	result, err := r.Terminate(ctx, res.RunID, spawner.TerminateForce, 0)
	require.NoError(t, err)
	assert.False(t, result.AlreadyDead)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("child process was never terminated")
	}

	run, err := s.AgentRuns.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentRunStatusKilled, run.Status)
}

type fakeTerminalLauncher struct {
	onLaunch func()
}

func (f fakeTerminalLauncher) Launch(ctx context.Context, spawn spawner.Spawn) error {
	if f.onLaunch != nil {
		f.onLaunch()
	}
	return nil
}
