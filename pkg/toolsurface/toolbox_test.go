package toolsurface

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gobby-dev/gobby/pkg/store"
	"github.com/gobby-dev/gobby/pkg/tasks"
)

func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping toolsurface integration test in -short mode")
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

func newTasksOnlyToolbox(t *testing.T, s *store.Store) *Toolbox {
	graph := tasks.New(s.Tasks, s.Sessions, tasks.WaitConfig{})
	return New(s, nil, graph, nil, nil, nil)
}

func TestToolbox_InvokeToolRejectsUnknownName(t *testing.T) {
	s := newTestStore(t)
	box := newTasksOnlyToolbox(t, s)

	_, err := box.InvokeTool(context.Background(), "sess-1", "tasks.does_not_exist", nil)
	require.Error(t, err)
}

func TestToolbox_InvokeToolFailsNamespaceWithoutItsComponent(t *testing.T) {
	s := newTestStore(t)
	box := newTasksOnlyToolbox(t, s)

	_, err := box.InvokeTool(context.Background(), "sess-1", "party.launch_party", map[string]any{
		"definition": "whatever",
		"project_id": "proj-1",
	})
	require.Error(t, err)
}

func TestToolbox_CreateTaskThenListReadyTasksRoundTrips(t *testing.T) {
	s := newTestStore(t)
	box := newTasksOnlyToolbox(t, s)
	ctx := context.Background()

	session, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	created, err := box.InvokeTool(ctx, session.ID, "tasks.create_task", map[string]any{
		"project_id":  "proj-toolbox",
		"title":       "wire the toolbox",
		"description": "exercise create_task through InvokeTool",
		"priority":    float64(5),
	})
	require.NoError(t, err)
	taskID, _ := created["id"].(string)
	require.NotEmpty(t, taskID)
	require.Equal(t, "wire the toolbox", created["title"])

	listed, err := box.InvokeTool(ctx, session.ID, "tasks.list_ready_tasks", map[string]any{
		"project_id": "proj-toolbox",
	})
	require.NoError(t, err)
	rows, _ := listed["tasks"].([]map[string]any)
	require.Len(t, rows, 1)
	require.Equal(t, taskID, rows[0]["id"])

	got, err := box.InvokeTool(ctx, session.ID, "tasks.get_task", map[string]any{"task_id": taskID})
	require.NoError(t, err)
	require.Equal(t, "exercise create_task through InvokeTool", got["description"])
}
