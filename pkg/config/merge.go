package config

import "dario.cat/mergo"

// defaultAgentDefinition carries the fallback values an AgentDefinition
// falls back to when a tier's entry leaves a field zero-valued.
var defaultAgentDefinition = AgentDefinition{
	WorktreeIsolation: "worktree",
	MaxAgentDepth:     1,
}

// mergeAgentDefaults fills unset fields of a from a package-wide
// default, the same override-by-name-keyed-zero-value shape the
// teacher's merge helpers use for per-entity default application.
func mergeAgentDefaults(a *AgentDefinition) {
	_ = mergo.Merge(a, defaultAgentDefinition)
}

// ApplyRecoveryDefaults exports mergePartyRecoveryDefaults for callers
// outside this package that build a PartyDefinition at runtime rather
// than through Load — create_party_definition (spec.md §6.1) needs the
// same per-role recovery fill-in a loaded party definition gets at
// startup, since pkg/party.Scheduler.recoveryFor assumes every role's
// OnCrash/RetryAttempts/Notify are already non-zero.
func ApplyRecoveryDefaults(p *PartyDefinition) {
	mergePartyRecoveryDefaults(p)
}

// mergePartyRecoveryDefaults fills each role's recovery policy from the
// party-wide default, then from the package-wide fallback, without
// overwriting any field the role already set explicitly.
func mergePartyRecoveryDefaults(p *PartyDefinition) {
	base := p.Recovery
	_ = mergo.Merge(&base, defaultRecoveryPolicy())
	for name, role := range p.Roles {
		recovery := RecoveryPolicy{}
		if role.Recovery != nil {
			recovery = *role.Recovery
		}
		_ = mergo.Merge(&recovery, base)
		role.Recovery = &recovery
		if role.Count == 0 {
			role.Count = 1
		}
		if role.OnCrash == "" {
			role.OnCrash = recovery.OnCrash
		}
		if role.RetryAttempts == 0 {
			role.RetryAttempts = recovery.RetryAttempts
		}
		if role.Notify == "" {
			role.Notify = recovery.Notify
		}
		p.Roles[name] = role
	}
}
