package tasks

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
)

func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping tasks integration test in -short mode")
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

func TestGraph_ListReadyTasksRespectsDependencies(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{})
	ctx := context.Background()

	projectID := "proj-ready"
	a, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "#1"})
	require.NoError(t, err)
	b, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "#2", DependsOn: []string{a.ID}})
	require.NoError(t, err)
	_, err = g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "#3", DependsOn: []string{b.ID}})
	require.NoError(t, err)

	ready, err := g.ListReadyTasks(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, a.ID, ready[0].ID)

	require.NoError(t, g.UpdateTaskStatus(ctx, a.ID, store.TaskStatusInProgress, ""))
	require.NoError(t, s.Tasks.Close(ctx, a.ID, store.TaskStatusCompleted, nil))

	ready, err = g.ListReadyTasks(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, b.ID, ready[0].ID)
}

func TestGraph_ClosingTaskRoutesByActorAgentDepth(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{})
	ctx := context.Background()

	human, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)
	agent, err := s.Sessions.Create(ctx, &store.Session{Source: "claude", AgentDepth: 1})
	require.NoError(t, err)

	projectID := "proj-close"
	byHuman, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "human task"})
	require.NoError(t, err)
	require.NoError(t, g.UpdateTaskStatus(ctx, byHuman.ID, store.TaskStatusInProgress, ""))
	require.NoError(t, g.CloseTask(ctx, byHuman.ID, "abc123", human.ID))
	got, err := s.Tasks.Get(ctx, byHuman.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusCompleted, got.Status)

	byAgent, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "agent task"})
	require.NoError(t, err)
	require.NoError(t, g.UpdateTaskStatus(ctx, byAgent.ID, store.TaskStatusInProgress, ""))
	require.NoError(t, g.CloseTask(ctx, byAgent.ID, "def456", agent.ID))
	got, err = s.Tasks.Get(ctx, byAgent.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusPendingReview, got.Status)
	require.NotNil(t, got.PendingReviewAt)

	require.NoError(t, g.ReopenTask(ctx, byAgent.ID, "needs more work"))
	got, err = s.Tasks.Get(ctx, byAgent.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusInProgress, got.Status)
	require.Nil(t, got.CommitSHA)
}

func TestGraph_ValidateTaskEscalatesAtLimit(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{})
	ctx := context.Background()

	projectID := "proj-validate"
	task, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "validated task"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		updated, err := g.ValidateTask(ctx, task.ID, false, 3)
		require.NoError(t, err)
		require.NotEqual(t, store.TaskStatusEscalated, updated.Status)
	}
	updated, err := g.ValidateTask(ctx, task.ID, false, 3)
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusEscalated, updated.Status)
	require.Equal(t, 3, updated.ValidationFailCount)
}

func TestGraph_WaitForTaskReturnsImmediatelyOnZeroTimeout(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{})
	ctx := context.Background()

	projectID := "proj-wait"
	task, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "waited task"})
	require.NoError(t, err)

	got, timedOut, err := g.WaitForTask(ctx, task.ID, 0)
	require.NoError(t, err)
	require.False(t, timedOut)
	require.Equal(t, task.ID, got.ID)
}

func TestGraph_WaitForTaskUnblocksOnStatusChange(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{PollInterval: 20 * time.Millisecond, PollIntervalJitter: 5 * time.Millisecond})
	ctx := context.Background()

	projectID := "proj-wait2"
	task, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "in flight"})
	require.NoError(t, err)
	require.NoError(t, g.UpdateTaskStatus(ctx, task.ID, store.TaskStatusInProgress, ""))

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		_ = s.Tasks.Close(ctx, task.ID, store.TaskStatusCompleted, nil)
	}()

	got, timedOut, err := g.WaitForTask(ctx, task.ID, time.Second)
	require.NoError(t, err)
	require.False(t, timedOut)
	require.Equal(t, store.TaskStatusCompleted, got.Status)
	<-done
}

func TestGraph_UpdateTaskStatusRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{})
	ctx := context.Background()

	projectID := "proj-illegal"
	task, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "pending task"})
	require.NoError(t, err)

	err = g.UpdateTaskStatus(ctx, task.ID, store.TaskStatusCompleted, "")
	require.ErrorIs(t, err, ErrIllegalTransition)
}
