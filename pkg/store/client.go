// Package store provides the PostgreSQL-backed persistence layer for
// every entity gobbyd tracks: sessions, tasks, workflow instances,
// agent runs, worktrees, inter-session messages, and parties.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver used for migrations
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds database connection and pool configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c Config) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store is the single entry point every manager is built from: one
// pgxpool.Pool backing all parameterized queries, plus a stdlib *sql.DB
// kept alive only for golang-migrate and health-check pool statistics.
type Store struct {
	Pool *pgxpool.Pool
	db   *stdsql.DB

	Sessions    *SessionManager
	Tasks       *TaskManager
	Workflows   *WorkflowInstanceManager
	AgentRuns   *AgentRunManager
	Worktrees   *WorktreeManager
	Messages    *MessageManager
	Parties     *PartyManager
	StopSignals  *StopSignalManager
	SessionVars  *SessionVariableStore
	PipelineRuns *PipelineRunManager
}

// DB returns the underlying *sql.DB used for health checks.
func (s *Store) DB() *stdsql.DB { return s.db }

// SetWorkflowVariables, GetSessionVariables and SetSessionVariables
// make *Store satisfy vars.Store for the Workflow Engine's scope.
func (s *Store) SetWorkflowVariables(ctx context.Context, instanceID string, vars map[string]any) error {
	return s.Workflows.SetVariables(ctx, instanceID, vars)
}

func (s *Store) GetSessionVariables(ctx context.Context, sessionID string) (map[string]any, error) {
	return s.SessionVars.Get(ctx, sessionID)
}

func (s *Store) SetSessionVariables(ctx context.Context, sessionID string, vars map[string]any) error {
	return s.SessionVars.Set(ctx, sessionID, vars)
}

// Close releases the connection pool and the migration-support
// connection. It does not call golang-migrate's own Close, which would
// also close the shared *sql.DB out from under health checks that ran
// earlier in this process's lifetime — see runMigrations below.
func (s *Store) Close() {
	s.Pool.Close()
	_ = s.db.Close()
}

// NewStore opens a connection pool, runs pending migrations, and
// constructs every entity manager against the shared pool.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("store: parse pool config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping pool: %w", err)
	}

	db, err := stdsql.Open("pgx", cfg.dsn())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: open migration connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := runMigrations(db, cfg.Database); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	s := &Store{Pool: pool, db: db}
	s.Sessions = newSessionManager(pool)
	s.Tasks = newTaskManager(pool)
	s.Workflows = newWorkflowInstanceManager(pool)
	s.AgentRuns = newAgentRunManager(pool)
	s.Worktrees = newWorktreeManager(pool)
	s.Messages = newMessageManager(pool)
	s.Parties = newPartyManager(pool)
	s.StopSignals = newStopSignalManager(pool)
	s.SessionVars = NewSessionVariableStore(pool)
	s.PipelineRuns = newPipelineRunManager(pool)
	return s, nil
}

// runMigrations applies every pending embedded migration with
// golang-migrate. db is a *sql.DB dedicated to this call and to health
// checks; we must not call m.Close(), because golang-migrate's Close
// also closes the *sql.DB passed to postgres.WithInstance, which would
// break every subsequent health check on this same connection.
func runMigrations(db *stdsql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found, binary built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
