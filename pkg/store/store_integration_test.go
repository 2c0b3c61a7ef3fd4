package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore spins up a throwaway Postgres (via CI_DATABASE_URL when
// set, or a testcontainer locally) and returns a fully migrated Store.
// Skipped under `go test -short` since it needs Docker or a live DB.
func newTestStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping store integration test in -short mode")
	}
	ctx := context.Background()

	cfg := Config{
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

	s, err := NewStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStore_SessionCreateAndDependencyGatedReadiness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions.Create(ctx, &Session{Source: "claude"})
	require.NoError(t, err)
	require.Equal(t, SessionStatusActive, sess.Status)

	projectID := "proj-1"
	a, err := s.Tasks.Create(ctx, &Task{ProjectID: &projectID, Title: "task a"})
	require.NoError(t, err)

	b, err := s.Tasks.Create(ctx, &Task{ProjectID: &projectID, Title: "task b", DependsOn: []string{a.ID}})
	require.NoError(t, err)

	_, err = s.Tasks.Create(ctx, &Task{ProjectID: &projectID, Title: "task c"})
	require.NoError(t, err)

	// b depends on a, so once a is in progress (not completed) b must
	// not appear among the ready tasks.
	err = s.Tasks.TransitionStatus(ctx, a.ID, TaskStatusPending, TaskStatusInProgress)
	require.NoError(t, err)

	ready, err := s.Tasks.ListReady(ctx, projectID)
	require.NoError(t, err)
	for _, r := range ready {
		require.NotEqual(t, b.ID, r.ID, "b should not be ready until a completes")
	}
}

func TestStore_MessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	from, err := s.Sessions.Create(ctx, &Session{Source: "claude"})
	require.NoError(t, err)
	to, err := s.Sessions.Create(ctx, &Session{Source: "claude"})
	require.NoError(t, err)

	toID := to.ID
	sent, err := s.Messages.Send(ctx, &Message{FromSession: from.ID, ToSession: &toID, Content: "hello"})
	require.NoError(t, err)

	inbox, err := s.Messages.Poll(ctx, to.ID, false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, sent.Content, inbox[0].Content)
	require.Equal(t, from.ID, inbox[0].FromSession)
}
