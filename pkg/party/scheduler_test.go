package party

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping party integration test in -short mode")
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

// runningDriver never lets a spawned agent finish on its own; the test
// drives completion explicitly by publishing agent_run.status events,
// the way the real registry would once an agent calls agents.complete.
func runningDriver() *spawner.InProcessDriver {
	return &spawner.InProcessDriver{Run: func(ctx context.Context, spawn spawner.Spawn) error {
		<-ctx.Done()
		return nil
	}}
}

func TestScheduler_LaunchPartyRespectsDependsOnAndCompletes(t *testing.T) {
	s := newTestStore(t)
	agents := newTestAgents(t, `
- name: worker
  source: claude
  spawn_mode: in_process
`)
	b := bus.NewBus(time.Second)
	reg := registry.New(s, agents, b, map[string]spawner.Driver{"in_process": runningDriver()})
	sched := New(s, reg, b)

	ctx := context.Background()
	leader, err := s.Sessions.Create(ctx, &store.Session{Source: "claude"})
	require.NoError(t, err)

	def := &config.PartyDefinition{
		Name: "review-party",
		Roles: map[string]config.PartyRole{
			"implementer": {AgentDefinition: "worker", OnCrash: "abort", RetryAttempts: 0, Notify: "leader"},
			"reviewer":    {AgentDefinition: "worker", OnCrash: "abort", RetryAttempts: 0, Notify: "leader"},
		},
		DependsOn: map[string][]string{"reviewer": {"implementer"}},
	}

	party, err := sched.LaunchParty(ctx, LaunchParams{Definition: def, ProjectID: "proj-1", LeaderSessionID: leader.ID})
	require.NoError(t, err)
	require.NotEmpty(t, party.ID)

	// Only the dependency-free role should spawn immediately.
	require.Eventually(t, func() bool {
		members, err := s.Parties.ListMembers(ctx, party.ID)
		return err == nil && len(members) == 1 && members[0].RoleName == "implementer"
	}, 2*time.Second, 20*time.Millisecond)

	implementer := mustMember(t, s, party.ID, "implementer")
	publishCompletion(t, s, b, implementer)

	// Completing the implementer should unblock the reviewer.
	require.Eventually(t, func() bool {
		members, err := s.Parties.ListMembers(ctx, party.ID)
		return err == nil && len(members) == 2
	}, 2*time.Second, 20*time.Millisecond)

	reviewer := mustMember(t, s, party.ID, "reviewer")
	publishCompletion(t, s, b, reviewer)

	require.Eventually(t, func() bool {
		p, err := s.Parties.Get(ctx, party.ID)
		return err == nil && p.Status == store.PartyStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)
}

func TestScheduler_OverrideRecoveryTakesPrecedenceOverRoleDefault(t *testing.T) {
	s := newTestStore(t)
	agents := newTestAgents(t, `
- name: worker
  source: claude
  spawn_mode: in_process
`)
	b := bus.NewBus(time.Second)
	reg := registry.New(s, agents, b, map[string]spawner.Driver{"in_process": runningDriver()})
	sched := New(s, reg, b)

	sched.OverrideRecovery("party-x", "implementer", config.RecoveryPolicy{OnCrash: "restart", RetryAttempts: 3, Notify: "leader"})
	policy := sched.recoveryFor("party-x", "implementer", config.PartyRole{OnCrash: "abort", RetryAttempts: 0, Notify: "leader"})
	assert.Equal(t, "restart", policy.OnCrash)
	assert.Equal(t, 3, policy.RetryAttempts)
}

func mustMember(t *testing.T, s *store.Store, partyID, role string) *store.PartyMember {
	t.Helper()
	members, err := s.Parties.ListMembers(context.Background(), partyID)
	require.NoError(t, err)
	for _, m := range members {
		if m.RoleName == role {
			return m
		}
	}
	t.Fatalf("no member found for role %q", role)
	return nil
}

func publishCompletion(t *testing.T, s *store.Store, b *bus.Bus, member *store.PartyMember) {
	t.Helper()
	ctx := context.Background()
	runs, err := s.AgentRuns.ListByParty(ctx, member.PartyID)
	require.NoError(t, err)
	var runID string
	for _, r := range runs {
		if r.ChildSessionID != nil && *r.ChildSessionID == *member.SessionID {
			runID = r.ID
		}
	}
	require.NotEmpty(t, runID)
	require.NoError(t, s.AgentRuns.Finish(ctx, runID, store.AgentRunStatusCompleted, nil))
	b.Publish(bus.Event{Type: bus.EventTypeAgentRunStatus, Channel: bus.GlobalChannel,
		Data: map[string]any{"run_id": runID, "status": "completed"}})
}
