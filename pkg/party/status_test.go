package party

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

func TestScheduler_GetPartyStatusReportsMembers(t *testing.T) {
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
		Name:  "status-party",
		Roles: map[string]config.PartyRole{"implementer": {AgentDefinition: "worker", OnCrash: "abort", Notify: "leader"}},
	}
	p, err := sched.LaunchParty(ctx, LaunchParams{Definition: def, ProjectID: "proj-status", LeaderSessionID: leader.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := sched.GetPartyStatus(ctx, p.ID)
		return err == nil && len(status.Members) == 1
	}, 2*time.Second, 20*time.Millisecond)

	status, err := sched.GetPartyStatus(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, status.Party.ID)
	require.Equal(t, "implementer", status.Members[0].RoleName)

	parties, err := sched.ListParties(ctx, "proj-status")
	require.NoError(t, err)
	require.Len(t, parties, 1)
	require.Equal(t, p.ID, parties[0].ID)
}

func TestScheduler_SignalRoleDeliversToMatchingMembersOnly(t *testing.T) {
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
		Name: "signal-party",
		Roles: map[string]config.PartyRole{
			"implementer": {AgentDefinition: "worker", OnCrash: "abort", Notify: "leader"},
			"reviewer":    {AgentDefinition: "worker", OnCrash: "abort", Notify: "leader"},
		},
	}
	p, err := sched.LaunchParty(ctx, LaunchParams{Definition: def, ProjectID: "proj-signal", LeaderSessionID: leader.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		members, err := s.Parties.ListMembers(ctx, p.ID)
		return err == nil && len(members) == 2
	}, 2*time.Second, 20*time.Millisecond)

	sent, err := sched.SignalRole(ctx, leader.ID, p.ID, "implementer", "stand by")
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	implementer := mustMember(t, s, p.ID, "implementer")
	msgs, err := s.Messages.Poll(ctx, *implementer.SessionID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "stand by", msgs[0].Content)
	require.Equal(t, leader.ID, msgs[0].FromSession)

	reviewer := mustMember(t, s, p.ID, "reviewer")
	msgs, err = s.Messages.Poll(ctx, *reviewer.SessionID, false)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
