package config

import "sort"

// WorkflowRegistry indexes loaded workflow definitions by name and by
// trigger event type, sorted ascending by priority, mirroring the
// engine's "index once, evaluate many" loading step (spec.md §4.1).
type WorkflowRegistry struct {
	byName    map[string]*WorkflowDefinition
	byTrigger map[string][]*WorkflowDefinition
	withSteps []*WorkflowDefinition
}

func newWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{
		byName:    map[string]*WorkflowDefinition{},
		byTrigger: map[string][]*WorkflowDefinition{},
	}
}

func (r *WorkflowRegistry) add(wf *WorkflowDefinition) {
	r.byName[wf.Name] = wf
}

// build rebuilds the trigger index and step-workflow set from byName.
// Called once after all tiers are merged; must not be called while any
// goroutine holds a reference obtained from Lookup/ByTrigger, which is
// why the engine's index wrapper (pkg/workflow/index) guards this
// behind a RWMutex on reload.
func (r *WorkflowRegistry) build() {
	r.byTrigger = map[string][]*WorkflowDefinition{}
	r.withSteps = nil
	for _, wf := range r.byName {
		for event := range wf.Triggers {
			r.byTrigger[event] = append(r.byTrigger[event], wf)
		}
		if len(wf.Steps) > 0 {
			r.withSteps = append(r.withSteps, wf)
		}
	}
	for event := range r.byTrigger {
		list := r.byTrigger[event]
		sort.Slice(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority < list[j].Priority
			}
			return list[i].Name < list[j].Name
		})
		r.byTrigger[event] = list
	}
}

func (r *WorkflowRegistry) Lookup(name string) (*WorkflowDefinition, error) {
	wf, ok := r.byName[name]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return wf, nil
}

func (r *WorkflowRegistry) ByTrigger(eventType string) []*WorkflowDefinition {
	return r.byTrigger[eventType]
}

func (r *WorkflowRegistry) WithSteps() []*WorkflowDefinition {
	return r.withSteps
}

func (r *WorkflowRegistry) All() []*WorkflowDefinition {
	out := make([]*WorkflowDefinition, 0, len(r.byName))
	for _, wf := range r.byName {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AgentDefinitionRegistry indexes agent definitions by name.
type AgentDefinitionRegistry struct {
	byName map[string]*AgentDefinition
}

func newAgentDefinitionRegistry() *AgentDefinitionRegistry {
	return &AgentDefinitionRegistry{byName: map[string]*AgentDefinition{}}
}

func (r *AgentDefinitionRegistry) add(a *AgentDefinition) { r.byName[a.Name] = a }

func (r *AgentDefinitionRegistry) Lookup(name string) (*AgentDefinition, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, ErrAgentDefNotFound
	}
	return a, nil
}

func (r *AgentDefinitionRegistry) All() []*AgentDefinition {
	out := make([]*AgentDefinition, 0, len(r.byName))
	for _, a := range r.byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PipelineDefinitionRegistry indexes pipeline definitions by name.
type PipelineDefinitionRegistry struct {
	byName map[string]*PipelineDefinition
}

func newPipelineDefinitionRegistry() *PipelineDefinitionRegistry {
	return &PipelineDefinitionRegistry{byName: map[string]*PipelineDefinition{}}
}

func (r *PipelineDefinitionRegistry) add(p *PipelineDefinition) { r.byName[p.Name] = p }

func (r *PipelineDefinitionRegistry) Lookup(name string) (*PipelineDefinition, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, ErrPipelineDefNotFound
	}
	return p, nil
}

func (r *PipelineDefinitionRegistry) All() []*PipelineDefinition {
	out := make([]*PipelineDefinition, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PartyDefinitionRegistry indexes party definitions by name.
type PartyDefinitionRegistry struct {
	byName map[string]*PartyDefinition
}

func newPartyDefinitionRegistry() *PartyDefinitionRegistry {
	return &PartyDefinitionRegistry{byName: map[string]*PartyDefinition{}}
}

func (r *PartyDefinitionRegistry) add(p *PartyDefinition) { r.byName[p.Name] = p }

// Register adds or replaces a party definition at runtime, the path
// create_party_definition (spec.md §6.1) takes to hand an agent-
// authored definition to the Party Scheduler without a config reload —
// unlike every definition add()'d during Load, a registered definition
// does not survive a subsequent Reload, since it was never part of any
// loaded tier's file.
func (r *PartyDefinitionRegistry) Register(p *PartyDefinition) {
	r.add(p)
}

func (r *PartyDefinitionRegistry) Lookup(name string) (*PartyDefinition, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, ErrPartyDefNotFound
	}
	return p, nil
}

func (r *PartyDefinitionRegistry) All() []*PartyDefinition {
	out := make([]*PartyDefinition, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
