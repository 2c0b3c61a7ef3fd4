// Package party implements the Party Scheduler (spec.md §4.4): it
// drives a DAG of heterogeneous agent roles to completion, spawning
// each role's instances once its dependencies finish and applying a
// per-role crash-recovery policy.
package party

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

// LaunchParams is launch_party's input (spec.md §6.1).
type LaunchParams struct {
	Definition      *config.PartyDefinition
	ProjectID       string
	LeaderSessionID string
	TaskID          *string
}

// Scheduler executes one party DAG at a time per call to LaunchParty,
// each driven by its own goroutine, the way the teacher's WorkerPool
// drives one queue claim per goroutine rather than a single sequential
// loop.
type Scheduler struct {
	store    *store.Store
	registry *registry.Registry
	bus      *bus.Bus

	mu        sync.Mutex
	overrides map[string]map[string]config.RecoveryPolicy // partyID -> role -> override
}

func New(st *store.Store, reg *registry.Registry, b *bus.Bus) *Scheduler {
	return &Scheduler{
		store:     st,
		registry:  reg,
		bus:       b,
		overrides: make(map[string]map[string]config.RecoveryPolicy),
	}
}

// LaunchParty creates the Party row and kicks off the DAG driver in a
// background goroutine; it returns as soon as persistence succeeds,
// not when the party finishes (spec.md §4.4's execution steps 1-2 are
// synchronous, step 3 onward runs asynchronously).
func (s *Scheduler) LaunchParty(ctx context.Context, p LaunchParams) (*store.Party, error) {
	snapshot, err := toSnapshot(p.Definition)
	if err != nil {
		return nil, fmt.Errorf("party: snapshot definition: %w", err)
	}

	party, err := s.store.Parties.Create(ctx, &store.Party{
		DefinitionSnapshot: snapshot,
		ProjectID:          p.ProjectID,
		LeaderSessionID:    &p.LeaderSessionID,
		TaskID:             p.TaskID,
	})
	if err != nil {
		return nil, fmt.Errorf("party: create party: %w", err)
	}

	go s.run(context.Background(), party.ID, p)
	return party, nil
}

// CancelParty implements cancel_party: kill every non-terminal member
// and mark the party cancelled.
func (s *Scheduler) CancelParty(ctx context.Context, partyID string) error {
	members, err := s.store.Parties.ListMembers(ctx, partyID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if isTerminalMemberStatus(m.Status) {
			continue
		}
		s.killMember(ctx, m)
	}
	return s.store.Parties.UpdateStatus(ctx, partyID, store.PartyStatusCancelled)
}

// OverrideRecovery implements override_recovery: a caller-supplied
// recovery policy that future crash decisions for that role consult
// ahead of the role's own and the party's defaults. There is no
// dedicated persistence column for a live override (spec.md does not
// call for one), so it is tracked in-process for the life of the
// scheduler, mirroring the Stop registry's in-memory mutex-guarded map
// (spec.md §5 "Shared-resource policy").
func (s *Scheduler) OverrideRecovery(partyID, roleName string, policy config.RecoveryPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[partyID] == nil {
		s.overrides[partyID] = map[string]config.RecoveryPolicy{}
	}
	s.overrides[partyID][roleName] = policy
}

// recoveryFor returns the effective recovery policy for a role. The
// config loader's mergePartyRecoveryDefaults already folds the party's
// defaultRecoveryPolicy and party-wide Recovery into every role's
// OnCrash/RetryAttempts/Notify fields at load time (pkg/config/merge.go),
// so role.OnCrash etc. are never zero-valued here; the only thing left
// to consult at runtime is a live override_recovery call.
func (s *Scheduler) recoveryFor(partyID, roleName string, role config.PartyRole) config.RecoveryPolicy {
	s.mu.Lock()
	override, ok := s.overrides[partyID][roleName]
	s.mu.Unlock()
	if ok {
		return override
	}
	return config.RecoveryPolicy{OnCrash: role.OnCrash, RetryAttempts: role.RetryAttempts, Notify: role.Notify}
}

// run drives steps 3-5 of spec.md §4.4's execution algorithm to
// completion: topological spawn order, crash-policy consultation, and
// party-terminal status once every role finishes or the DAG aborts.
func (s *Scheduler) run(ctx context.Context, partyID string, p LaunchParams) {
	def := p.Definition
	if err := s.store.Parties.UpdateStatus(ctx, partyID, store.PartyStatusRunning); err != nil {
		slog.Error("party: mark running failed", "party_id", partyID, "error", err)
		return
	}

	d := &driver{
		scheduler:       s,
		partyID:         partyID,
		def:             def,
		taskID:          p.TaskID,
		leaderSessionID: p.LeaderSessionID,
		pending:         map[string]int{},
		started:         map[string]bool{},
		completed:       map[string]bool{},
	}

	sub, unsubscribe := s.bus.Subscribe(bus.GlobalChannel)
	defer unsubscribe()

	d.spawnReady(ctx)
	if d.aborted || d.allCompleted() {
		d.finish(ctx)
		return
	}

	for evt := range sub {
		if evt.Type != bus.EventTypeAgentRunStatus {
			continue
		}
		if d.handleEvent(ctx, evt) {
			d.finish(ctx)
			return
		}
	}
}

func toSnapshot(def *config.PartyDefinition) (map[string]any, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func isTerminalMemberStatus(status string) bool {
	switch status {
	case store.PartyStatusCompleted, store.PartyMemberStatusKilled, store.PartyStatusFailed:
		return true
	default:
		return false
	}
}

// notify publishes a party-wide notification on the global channel;
// "leader"/"user"/"party" (role.Notify) all resolve to the same
// best-effort broadcast since Gobby has no separate notification
// transport (spec.md §4.4's notify targets are advisory routing hints
// for a consumer of the bus, not distinct delivery mechanisms here).
func (s *Scheduler) notify(partyID, target, message string) {
	s.bus.Publish(bus.Event{
		Type:    bus.EventTypePartyStatus,
		Channel: bus.GlobalChannel,
		Data:    map[string]any{"party_id": partyID, "notify": target, "message": message},
	})
}

func (s *Scheduler) killMember(ctx context.Context, m *store.PartyMember) {
	if m.SessionID == nil {
		return
	}
	runs, err := s.store.AgentRuns.ListByParty(ctx, m.PartyID)
	if err != nil {
		slog.Warn("party: list runs for kill failed", "party_id", m.PartyID, "error", err)
		return
	}
	for _, r := range runs {
		if r.ChildSessionID != nil && *r.ChildSessionID == *m.SessionID {
			_, _ = s.registry.Terminate(ctx, r.ID, spawner.TerminateForce, 0)
		}
	}
	_ = s.store.Parties.UpdateMemberStatus(ctx, m.ID, store.PartyMemberStatusKilled)
}
