package config

import (
	"errors"
	"fmt"
)

var validSpawnModes = map[string]bool{
	"in_process": true, "headless": true, "terminal": true, "embedded": true,
}

var validAgentSources = map[string]bool{
	"claude": true, "gemini": true, "codex": true, "claude_sdk": true, "generic": true,
}

var validWorktreeIsolation = map[string]bool{"worktree": true, "clone": true, "": true}

var validOnCrash = map[string]bool{"restart": true, "pause": true, "abort": true}

var validPipelineStepKinds = map[string]bool{
	"exec": true, "prompt": true, "mcp": true, "invoke_pipeline": true,
	"spawn_session": true, "activate_workflow": true,
}

// validateConfig checks every loaded definition and returns every
// problem found, not just the first (spec.md §4.B point 3).
func validateConfig(cfg *Config) []error {
	var errs []error

	for _, wf := range cfg.Workflows.All() {
		errs = append(errs, validateWorkflow(wf)...)
	}
	for _, a := range cfg.Agents.All() {
		errs = append(errs, validateAgent(a)...)
	}
	for _, p := range cfg.Parties.All() {
		errs = append(errs, validateParty(cfg, p)...)
	}
	for _, p := range cfg.Pipelines.All() {
		errs = append(errs, validatePipeline(p)...)
	}
	return errs
}

func validatePipeline(p *PipelineDefinition) []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, NewValidationError("pipeline", p.SourcePath, "name", errors.New("must not be empty")))
		return errs
	}
	if len(p.Steps) == 0 {
		errs = append(errs, NewValidationError("pipeline", p.Name, "steps", errors.New("must declare at least one step")))
	}
	for i, step := range p.Steps {
		if step.Name == "" {
			errs = append(errs, NewValidationError("pipeline", p.Name, fmt.Sprintf("steps[%d].name", i), errors.New("must not be empty")))
		}
		if !validPipelineStepKinds[step.Kind] {
			errs = append(errs, NewValidationError("pipeline", p.Name, fmt.Sprintf("steps[%d].kind", i), fmt.Errorf("unknown kind %q", step.Kind)))
		}
	}
	return errs
}

func validateWorkflow(wf *WorkflowDefinition) []error {
	var errs []error
	if wf.Name == "" {
		errs = append(errs, NewValidationError("workflow", wf.SourcePath, "name", errors.New("must not be empty")))
		return errs
	}
	if len(wf.Triggers) == 0 && len(wf.Steps) == 0 {
		errs = append(errs, NewValidationError("workflow", wf.Name, "triggers/steps", errors.New("a workflow must declare at least one trigger or step")))
	}
	for event, rules := range wf.Triggers {
		for i, rule := range rules {
			if rule.Action == "" {
				errs = append(errs, NewValidationError("workflow", wf.Name, fmt.Sprintf("triggers.%s[%d].action", event, i), errors.New("must not be empty")))
			}
		}
	}
	stepNames := map[string]bool{}
	for _, s := range wf.Steps {
		stepNames[s.Name] = true
	}
	for _, s := range wf.Steps {
		for _, t := range s.Next {
			if !stepNames[t.To] {
				errs = append(errs, NewValidationError("workflow", wf.Name, fmt.Sprintf("steps.%s.next", s.Name), fmt.Errorf("references unknown step %q", t.To)))
			}
		}
	}
	return errs
}

func validateAgent(a *AgentDefinition) []error {
	var errs []error
	if a.Name == "" {
		errs = append(errs, NewValidationError("agent", a.SourcePath, "name", errors.New("must not be empty")))
		return errs
	}
	if !validAgentSources[a.Source] {
		errs = append(errs, NewValidationError("agent", a.Name, "source", fmt.Errorf("unknown source %q", a.Source)))
	}
	if !validSpawnModes[a.SpawnMode] {
		errs = append(errs, NewValidationError("agent", a.Name, "spawn_mode", fmt.Errorf("unknown spawn_mode %q", a.SpawnMode)))
	}
	if !validWorktreeIsolation[a.WorktreeIsolation] {
		errs = append(errs, NewValidationError("agent", a.Name, "worktree_isolation", fmt.Errorf("unknown worktree_isolation %q", a.WorktreeIsolation)))
	}
	if a.MaxAgentDepth < 0 {
		errs = append(errs, NewValidationError("agent", a.Name, "max_agent_depth", errors.New("must be >= 0")))
	}
	return errs
}

func validateParty(cfg *Config, p *PartyDefinition) []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, NewValidationError("party", p.SourcePath, "name", errors.New("must not be empty")))
		return errs
	}
	if len(p.Roles) == 0 {
		errs = append(errs, NewValidationError("party", p.Name, "roles", errors.New("must declare at least one role")))
	}
	for roleName, role := range p.Roles {
		if _, err := cfg.Agents.Lookup(role.AgentDefinition); err != nil {
			errs = append(errs, NewValidationError("party", p.Name, fmt.Sprintf("roles.%s.agent_definition", roleName), fmt.Errorf("unknown agent definition %q", role.AgentDefinition)))
		}
		if role.OnCrash != "" && !validOnCrash[role.OnCrash] {
			errs = append(errs, NewValidationError("party", p.Name, fmt.Sprintf("roles.%s.on_crash", roleName), fmt.Errorf("unknown on_crash %q", role.OnCrash)))
		}
	}
	for roleName, deps := range p.DependsOn {
		if _, ok := p.Roles[roleName]; !ok {
			errs = append(errs, NewValidationError("party", p.Name, fmt.Sprintf("depends_on.%s", roleName), errors.New("references unknown role")))
			continue
		}
		for _, dep := range deps {
			if _, ok := p.Roles[dep]; !ok {
				errs = append(errs, NewValidationError("party", p.Name, fmt.Sprintf("depends_on.%s", roleName), fmt.Errorf("depends on unknown role %q", dep)))
			}
		}
	}
	if cycle := findPartyDAGCycle(p); cycle != "" {
		errs = append(errs, NewValidationError("party", p.Name, "depends_on", fmt.Errorf("dependency cycle through role %q", cycle)))
	}
	return errs
}

// findPartyDAGCycle runs a DFS over the depends_on adjacency and
// returns the name of a role found mid-recursion-stack if a cycle
// exists, or "" if the graph is acyclic.
func findPartyDAGCycle(p *PartyDefinition) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := map[string]int{}
	var visit func(role string) string
	visit = func(role string) string {
		state[role] = gray
		for _, dep := range p.DependsOn[role] {
			switch state[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		state[role] = black
		return ""
	}
	for role := range p.Roles {
		if state[role] == white {
			if found := visit(role); found != "" {
				return found
			}
		}
	}
	return ""
}
