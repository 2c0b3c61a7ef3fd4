package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/hooks"
	"github.com/gobby-dev/gobby/pkg/store"
	"github.com/gobby-dev/gobby/pkg/workflow/index"
)

func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping workflow engine integration test in -short mode")
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

	st, err := store.NewStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func newTestEngine(t *testing.T, st *store.Store, yaml string) *Engine {
	t.Helper()
	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, "workflows")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.yaml"), []byte(yaml), 0o644))

	cfg, err := config.Load(config.Dirs{UserDir: t.TempDir(), ProjectDir: projectDir}, nil)
	require.NoError(t, err)
	return New(st, index.New(cfg), nil, nil)
}

func newTestSession(t *testing.T, st *store.Store) *store.Session {
	t.Helper()
	sess, err := st.Sessions.Create(context.Background(), &store.Session{
		Source:         "claude",
		TranscriptPath: "/tmp/transcript.jsonl",
		MachineID:      "test-machine",
	})
	require.NoError(t, err)
	return sess
}

func TestEngine_FirstBlockWinsWithinAWorkflow(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: gate
  priority: 1
  enabled_default: true
  triggers:
    before_tool:
      - when: tool_name == "rm"
        action: block_tools
        with: {reason: "rm is not allowed"}
      - action: inject_context
        with: {text: "should never fire"}
`)
	sess := newTestSession(t, st)

	resp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data:      map[string]any{"tool_name": "rm"},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionBlock, resp.Decision)
	assert.Contains(t, resp.Context, "rm is not allowed")
}

func TestEngine_UnmatchedWhenFallsThroughToDefaultAllow(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: gate
  priority: 1
  enabled_default: true
  triggers:
    before_tool:
      - when: tool_name == "rm"
        action: block_tools
`)
	sess := newTestSession(t, st)

	resp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data:      map[string]any{"tool_name": "ls"},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionAllow, resp.Decision)
}

func TestEngine_DisabledByDefaultWorkflowNeverFires(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: dormant
  priority: 1
  enabled_default: false
  triggers:
    stop:
      - action: block_stop
`)
	sess := newTestSession(t, st)

	resp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventStop,
		SessionID: sess.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionAllow, resp.Decision)
}

func TestEngine_StepToolRulePrecedenceExplicitBlockBeatsAllowedTools(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: reviewer
  priority: 1
  enabled_default: true
  steps:
    - name: reviewing
      allowed_tools: [write_file]
      rules:
        - {tool: write_file, decision: block, when: 'tool_input["path"] == "prod.yaml"'}
`)
	sess := newTestSession(t, st)

	resp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data: map[string]any{
			"tool_name":  "write_file",
			"tool_input": map[string]any{"path": "prod.yaml"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionBlock, resp.Decision)
}

func TestEngine_StepToolRuleSchemaGatesWhichInputsMatch(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: reviewer
  priority: 1
  enabled_default: true
  steps:
    - name: reviewing
      rules:
        - tool: write_file
          decision: block
          schema:
            type: object
            required: [path]
            properties:
              path: {const: prod.yaml}
`)
	sess := newTestSession(t, st)

	blockedResp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data: map[string]any{
			"tool_name":  "write_file",
			"tool_input": map[string]any{"path": "prod.yaml"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionBlock, blockedResp.Decision)

	allowedResp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data: map[string]any{
			"tool_name":  "write_file",
			"tool_input": map[string]any{"path": "notes.md"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionAllow, allowedResp.Decision)
}

func TestEngine_StepAllowedToolsBlocksUnlistedTool(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: reviewer
  priority: 1
  enabled_default: true
  steps:
    - name: reviewing
      allowed_tools: [read_file]
`)
	sess := newTestSession(t, st)

	resp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data:      map[string]any{"tool_name": "write_file"},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionBlock, resp.Decision)
}

func TestEngine_StepTransitionFiresOnExitAndOnEnterAtomically(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: pipeline_flow
  priority: 1
  enabled_default: true
  steps:
    - name: start
      on_exit:
        - {action: set_session_variable, with: {name: left_start, value: true}}
      next:
        - {to: done, when: tool_name == "finish"}
    - name: done
      on_enter:
        - {action: set_session_variable, with: {name: entered_done, value: true}}
`)
	sess := newTestSession(t, st)

	_, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeTool,
		SessionID: sess.ID,
		Data:      map[string]any{"tool_name": "finish"},
	})
	require.NoError(t, err)

	instance, err := st.Workflows.Get(context.Background(), sess.ID, "pipeline_flow")
	require.NoError(t, err)
	require.NotNil(t, instance.CurrentStep)
	assert.Equal(t, "done", *instance.CurrentStep)

	sessionVars, err := st.SessionVars.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, true, sessionVars["left_start"])
	assert.Equal(t, true, sessionVars["entered_done"])
}

func TestEngine_SetVariableIsIsolatedToItsOwnWorkflowInstance(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: writer_a
  priority: 1
  enabled_default: true
  triggers:
    stop:
      - action: set_variable
        with: {name: claimed, value: "a"}
- name: writer_b
  priority: 2
  enabled_default: true
  triggers:
    stop:
      - action: set_variable
        with: {name: claimed, value: "b"}
`)
	sess := newTestSession(t, st)

	_, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventStop,
		SessionID: sess.ID,
	})
	require.NoError(t, err)

	a, err := st.Workflows.Get(context.Background(), sess.ID, "writer_a")
	require.NoError(t, err)
	b, err := st.Workflows.Get(context.Background(), sess.ID, "writer_b")
	require.NoError(t, err)
	assert.Equal(t, "a", a.Variables["claimed"])
	assert.Equal(t, "b", b.Variables["claimed"])
}

func TestEngine_CheckStopSignalBlocksWhenSignalActive(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, `
- name: guard
  priority: 1
  enabled_default: true
  triggers:
    before_agent:
      - action: check_stop_signal
`)
	sess := newTestSession(t, st)
	_, err := st.StopSignals.Raise(context.Background(), &sess.ID, "user requested halt")
	require.NoError(t, err)

	resp, err := e.Evaluate(context.Background(), hooks.HookEvent{
		EventType: hooks.EventBeforeAgent,
		SessionID: sess.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.DecisionBlock, resp.Decision)
}

func TestEngine_TaskTreeCompleteWalksChildrenRecursively(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, st)

	parent, err := st.Tasks.Create(ctx, &store.Task{Title: "parent", Status: store.TaskStatusCompleted})
	require.NoError(t, err)
	_, err = st.Tasks.Create(ctx, &store.Task{Title: "child", Status: store.TaskStatusInProgress, ParentTaskID: &parent.ID})
	require.NoError(t, err)

	e := newTestEngine(t, st, `
- name: gate
  priority: 1
  enabled_default: true
  triggers:
    stop:
      - when: task_tree_complete("`+parent.ID+`")
        action: inject_message
        with: {message: "tree complete"}
      - action: inject_message
        with: {message: "tree incomplete"}
`)

	resp, err := e.Evaluate(ctx, hooks.HookEvent{EventType: hooks.EventStop, SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "tree incomplete", resp.Message)
}
