package adminhttp

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping adminhttp integration test in -short mode")
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

func emptyTestConfig(t *testing.T) *config.Config {
	cfg, err := config.Load(config.DefaultDirs(t.TempDir()), slog.Default())
	require.NoError(t, err)
	return cfg
}

func TestServer_ReadyzNeverTouchesDatabase(t *testing.T) {
	srv := New(nil, nil, nil)
	rec := doRequest(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ready"`)
}

func TestServer_HealthReportsConfigStatsAndBusConnections(t *testing.T) {
	st := newTestStore(t)
	cfg := emptyTestConfig(t)
	b := bus.NewBus(time.Second)

	srv := New(st, cfg, b)
	rec := doRequest(srv, http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `"status":"healthy"`)
	require.Contains(t, body, `"database":"connected"`)
	require.Contains(t, body, `"connections":0`)
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.router.ServeHTTP(rec, req)
	return rec
}
