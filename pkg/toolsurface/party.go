package toolsurface

import (
	"context"
	"fmt"

	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/party"
)

func init() {
	register("party.create_party_definition", partyCreatePartyDefinition)
	register("party.launch_party", partyLaunchParty)
	register("party.get_party_status", partyGetPartyStatus)
	register("party.signal_role", partySignalRole)
	register("party.override_recovery", partyOverrideRecovery)
	register("party.cancel_party", partyCancelParty)
	register("party.list_parties", partyListParties)
}

func (t *Toolbox) requireScheduler() error {
	if t.scheduler == nil {
		return fmt.Errorf("toolsurface: no party scheduler configured")
	}
	return nil
}

func rolesFromArgs(args map[string]any) map[string]config.PartyRole {
	raw, _ := args["roles"].(map[string]any)
	roles := make(map[string]config.PartyRole, len(raw))
	for name, v := range raw {
		spec, _ := v.(map[string]any)
		role := config.PartyRole{
			AgentDefinition: argString(spec, "agent_definition"),
			Workflow:        argString(spec, "workflow"),
			Count:           argInt(spec, "count"),
			OnCrash:         argString(spec, "on_crash"),
			RetryAttempts:   argInt(spec, "retry_attempts"),
			Notify:          argString(spec, "notify"),
		}
		roles[name] = role
	}
	return roles
}

func dependsOnFromArgs(args map[string]any) map[string][]string {
	raw, _ := args["depends_on"].(map[string]any)
	out := make(map[string][]string, len(raw))
	for role, v := range raw {
		deps, _ := v.([]any)
		names := make([]string, 0, len(deps))
		for _, d := range deps {
			if s, ok := d.(string); ok {
				names = append(names, s)
			}
		}
		out[role] = names
	}
	return out
}

// create_party_definition registers an agent-authored party definition
// for the life of the running process (config.PartyDefinitionRegistry.
// Register), applying the same recovery-default fill-in a loaded
// definition gets at startup so pkg/party.Scheduler.recoveryFor never
// sees a zero-valued OnCrash/RetryAttempts/Notify.
func partyCreatePartyDefinition(_ context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireIndex(); err != nil {
		return nil, err
	}
	def := &config.PartyDefinition{
		Name:      argString(args, "name"),
		Roles:     rolesFromArgs(args),
		DependsOn: dependsOnFromArgs(args),
	}
	config.ApplyRecoveryDefaults(def)
	t.index.Parties().Register(def)
	return map[string]any{"name": def.Name}, nil
}

func partyLaunchParty(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.requireScheduler(); err != nil {
		return nil, err
	}
	if err := t.requireIndex(); err != nil {
		return nil, err
	}
	def, err := t.index.Parties().Lookup(argString(args, "definition"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: launch_party: %w", err)
	}
	p, err := t.scheduler.LaunchParty(ctx, party.LaunchParams{
		Definition:      def,
		ProjectID:       argString(args, "project_id"),
		LeaderSessionID: sessionID,
		TaskID:          argStringPtr(args, "task_id"),
	})
	if err != nil {
		return nil, fmt.Errorf("toolsurface: launch_party: %w", err)
	}
	return map[string]any{"party_id": p.ID, "status": p.Status}, nil
}

func partyGetPartyStatus(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireScheduler(); err != nil {
		return nil, err
	}
	status, err := t.scheduler.GetPartyStatus(ctx, argString(args, "party_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_party_status: %w", err)
	}
	members := make([]map[string]any, len(status.Members))
	for i, m := range status.Members {
		members[i] = map[string]any{
			"role_name":  m.RoleName,
			"instance":   m.InstanceIndex,
			"session_id": derefStr(m.SessionID),
			"status":     m.Status,
		}
	}
	return map[string]any{
		"party_id": status.Party.ID,
		"status":   status.Party.Status,
		"members":  members,
	}, nil
}

func partySignalRole(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.requireScheduler(); err != nil {
		return nil, err
	}
	sent, err := t.scheduler.SignalRole(ctx, sessionID, argString(args, "party_id"), argString(args, "role"), argString(args, "message"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: signal_role: %w", err)
	}
	return map[string]any{"signaled": sent}, nil
}

func partyOverrideRecovery(_ context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireScheduler(); err != nil {
		return nil, err
	}
	t.scheduler.OverrideRecovery(argString(args, "party_id"), argString(args, "role"), config.RecoveryPolicy{
		OnCrash:       argString(args, "on_crash"),
		RetryAttempts: argInt(args, "retry_attempts"),
		Notify:        argString(args, "notify"),
	})
	return nil, nil
}

func partyCancelParty(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireScheduler(); err != nil {
		return nil, err
	}
	if err := t.scheduler.CancelParty(ctx, argString(args, "party_id")); err != nil {
		return nil, fmt.Errorf("toolsurface: cancel_party: %w", err)
	}
	return nil, nil
}

func partyListParties(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	if err := t.requireScheduler(); err != nil {
		return nil, err
	}
	parties, err := t.scheduler.ListParties(ctx, argString(args, "project_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: list_parties: %w", err)
	}
	out := make([]map[string]any, len(parties))
	for i, p := range parties {
		out[i] = map[string]any{"id": p.ID, "status": p.Status}
	}
	return map[string]any{"parties": out}, nil
}
