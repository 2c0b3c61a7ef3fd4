package cleanup

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

// newTestStore mirrors pkg/store's own integration-test helper: a
// throwaway Postgres via CI_DATABASE_URL when set, or a testcontainer
// locally. Skipped under -short.
func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping cleanup integration test in -short mode")
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

func TestService_ArchivesOldCompletedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)
	require.NoError(t, s.Sessions.UpdateStatus(ctx, sess.ID, store.SessionStatusCompleted))

	_, err = s.Pool.Exec(ctx, `UPDATE sessions SET updated_at = $2 WHERE id = $1`,
		sess.ID, time.Now().Add(-400*24*time.Hour))
	require.NoError(t, err)

	svc := NewService(Config{SessionRetentionAge: 365 * 24 * time.Hour, CleanupInterval: time.Hour}, s.Sessions)
	svc.runAll(ctx)

	updated, err := s.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusArchived, updated.Status)
}

func TestService_PreservesRecentSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)
	require.NoError(t, s.Sessions.UpdateStatus(ctx, sess.ID, store.SessionStatusCompleted))

	svc := NewService(Config{SessionRetentionAge: 365 * 24 * time.Hour, CleanupInterval: time.Hour}, s.Sessions)
	svc.runAll(ctx)

	updated, err := s.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusCompleted, updated.Status)
}

func TestService_PreservesActiveSessionsRegardlessOfAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	_, err = s.Pool.Exec(ctx, `UPDATE sessions SET updated_at = $2 WHERE id = $1`,
		sess.ID, time.Now().Add(-400*24*time.Hour))
	require.NoError(t, err)

	svc := NewService(Config{SessionRetentionAge: 365 * 24 * time.Hour, CleanupInterval: time.Hour}, s.Sessions)
	svc.runAll(ctx)

	updated, err := s.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusActive, updated.Status)
}

func TestService_StartStop(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(Config{SessionRetentionAge: 365 * 24 * time.Hour, CleanupInterval: 10 * time.Millisecond}, s.Sessions)

	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
}
