package party

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/store"
)

// driver owns one party's execution state. It is only ever touched
// from the single goroutine Scheduler.run spawns for that party, the
// same single-owner-goroutine invariant the Messaging Bus documents
// for its Connection.subscriptions map.
type driver struct {
	scheduler       *Scheduler
	partyID         string
	def             *config.PartyDefinition
	taskID          *string
	leaderSessionID string

	pending   map[string]int  // role -> live (non-terminal) instance count
	started   map[string]bool // role -> spawn already issued
	completed map[string]bool // role -> every instance reached completed
	aborted   bool
}

func (d *driver) allCompleted() bool {
	return len(d.completed) == len(d.def.Roles)
}

// spawnReady spawns every role whose dependencies are all in
// d.completed and that hasn't been started yet (spec.md §4.4 step 3).
func (d *driver) spawnReady(ctx context.Context) {
	for roleName, role := range d.def.Roles {
		if d.started[roleName] || !d.depsSatisfied(roleName) {
			continue
		}
		d.started[roleName] = true
		d.spawnRole(ctx, roleName, role)
	}
}

func (d *driver) depsSatisfied(roleName string) bool {
	for _, dep := range d.def.DependsOn[roleName] {
		if !d.completed[dep] {
			return false
		}
	}
	return true
}

func (d *driver) spawnRole(ctx context.Context, roleName string, role config.PartyRole) {
	count := role.Count
	if count == 0 {
		count = 1
	}
	recov := d.scheduler.recoveryFor(d.partyID, roleName, role)

	for i := 0; i < count; i++ {
		d.spawnInstance(ctx, roleName, role, i, recov)
	}
}

func (d *driver) spawnInstance(ctx context.Context, roleName string, role config.PartyRole, index int, recov config.RecoveryPolicy) {
	partyID := d.partyID
	res, err := d.scheduler.registry.Spawn(ctx, registry.SpawnParams{
		ParentSessionID: d.leaderSessionID,
		AgentDefinition: role.AgentDefinition,
		Workflow:        role.Workflow,
		TaskID:          d.taskID,
		Prompt:          fmt.Sprintf("You are playing the %q role in a party.", roleName),
		PartyID:         &partyID,
	})
	if err != nil {
		slog.Error("party: spawn role instance failed", "party_id", d.partyID, "role", roleName, "error", err)
		d.applyCrashPolicy(ctx, roleName, nil, recov)
		return
	}

	member, err := d.scheduler.store.Parties.AddMember(ctx, &store.PartyMember{
		PartyID:       d.partyID,
		RoleName:      roleName,
		InstanceIndex: index,
		SessionID:     &res.SessionID,
		OnCrash:       recov.OnCrash,
		MaxRetries:    recov.RetryAttempts,
	})
	if err != nil {
		slog.Error("party: record party member failed", "party_id", d.partyID, "role", roleName, "error", err)
		return
	}
	_ = member
	d.pending[roleName]++
}

// handleEvent consumes one agent_run.status bus event and returns true
// once the party has reached a terminal outcome (every role completed,
// or an abort fired).
func (d *driver) handleEvent(ctx context.Context, evt bus.Event) bool {
	runID, _ := evt.Data["run_id"].(string)
	status, _ := evt.Data["status"].(string)
	if runID == "" {
		return false
	}

	run, err := d.scheduler.store.AgentRuns.Get(ctx, runID)
	if err != nil || run.PartyID == nil || *run.PartyID != d.partyID {
		return false
	}

	member, roleName := d.findMember(ctx, run)
	if member == nil {
		return false
	}

	switch status {
	case "running":
		return false
	case "completed":
		_ = d.scheduler.store.Parties.UpdateMemberStatus(ctx, member.ID, store.PartyStatusCompleted)
		d.pending[roleName]--
		if d.pending[roleName] <= 0 {
			d.completed[roleName] = true
			d.spawnReady(ctx)
			if d.allCompleted() {
				return true
			}
		}
		return false
	default: // "error", "timeout", "killed", "cancelled" — treated as a crash
		role := d.def.Roles[roleName]
		recov := d.scheduler.recoveryFor(d.partyID, roleName, role)
		d.applyCrashPolicy(ctx, roleName, member, recov)
		return d.aborted
	}
}

func (d *driver) findMember(ctx context.Context, run *store.AgentRun) (*store.PartyMember, string) {
	if run.ChildSessionID == nil {
		return nil, ""
	}
	members, err := d.scheduler.store.Parties.ListMembers(ctx, d.partyID)
	if err != nil {
		slog.Warn("party: list members failed", "party_id", d.partyID, "error", err)
		return nil, ""
	}
	for _, m := range members {
		if m.SessionID != nil && *m.SessionID == *run.ChildSessionID {
			return m, m.RoleName
		}
	}
	return nil, ""
}

// applyCrashPolicy implements spec.md §4.4 step 4. member is nil when
// the crash happened before a member row could be recorded (spawn
// itself failed).
func (d *driver) applyCrashPolicy(ctx context.Context, roleName string, member *store.PartyMember, recov config.RecoveryPolicy) {
	switch recov.OnCrash {
	case "restart":
		crashCount := 0
		if member != nil {
			updated, err := d.scheduler.store.Parties.MarkCrashed(ctx, member.ID, store.AgentRunStatusError)
			if err == nil {
				crashCount = updated.CrashCount
			}
		}
		if crashCount < recov.RetryAttempts {
			d.spawnInstance(ctx, roleName, d.def.Roles[roleName], crashCount, recov)
			return
		}
		slog.Warn("party: role exhausted retry attempts, aborting party", "party_id", d.partyID, "role", roleName)
		d.abort(ctx)
	case "pause":
		if member != nil {
			_ = d.scheduler.store.Parties.UpdateMemberStatus(ctx, member.ID, store.PartyMemberStatusPaused)
		}
		d.scheduler.notify(d.partyID, recov.Notify, fmt.Sprintf("role %q paused after a crash; resume it via override_recovery", roleName))
		// The role's pending count is intentionally left non-zero: a
		// paused role never reaches "completed" on its own. Resuming it
		// is out of scope beyond the member-status flag and
		// notification above (spec.md names override_recovery as the
		// tool surface seam, not a concrete resume algorithm).
	case "abort":
		d.abort(ctx)
	default:
		d.abort(ctx)
	}
}

func (d *driver) abort(ctx context.Context) {
	if d.aborted {
		return
	}
	d.aborted = true
	members, err := d.scheduler.store.Parties.ListMembers(ctx, d.partyID)
	if err != nil {
		return
	}
	for _, m := range members {
		if !isTerminalMemberStatus(m.Status) {
			d.scheduler.killMember(ctx, m)
		}
	}
}

func (d *driver) finish(ctx context.Context) {
	status := store.PartyStatusCompleted
	if d.aborted {
		status = store.PartyStatusFailed
	}
	if err := d.scheduler.store.Parties.UpdateStatus(ctx, d.partyID, status); err != nil {
		slog.Error("party: mark terminal status failed", "party_id", d.partyID, "error", err)
	}
}
