// Package index guards the engine's trigger-event index with the
// reload discipline spec.md §4.1/§5 describes: workflow definitions
// are read-mostly, and a reload takes a brief write lock that blocks
// new evaluations until the new index is built, rather than letting
// an evaluation observe a half-rebuilt index.
package index

import (
	"sync"

	"github.com/gobby-dev/gobby/pkg/config"
)

// Index is a concurrency-safe handle onto the currently loaded
// workflow configuration. Callers hold a read lock only for the
// duration of one candidate lookup, mirroring the teacher's
// subscribe-snapshot-under-lock-then-act-outside-it discipline in
// pkg/bus.
type Index struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func New(cfg *config.Config) *Index {
	return &Index{cfg: cfg}
}

// Reload swaps in a freshly loaded configuration under a write lock,
// blocking any evaluation already waiting on ByTrigger/WithSteps/
// Lookup until it completes.
func (i *Index) Reload(cfg *config.Config) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cfg = cfg
}

// ByTrigger returns the workflow definitions indexed to eventType,
// already sorted ascending by priority (spec.md §4.1 step 2).
func (i *Index) ByTrigger(eventType string) []*config.WorkflowDefinition {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Workflows.ByTrigger(eventType)
}

// WithSteps returns every workflow definition that declares a step
// state machine, evaluated on every before_tool/after_tool regardless
// of its own trigger index (spec.md §4.1 "Loading & indexing").
func (i *Index) WithSteps() []*config.WorkflowDefinition {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Workflows.WithSteps()
}

// Lookup finds a workflow definition by name, used by the
// activate_workflow action, tool and pipeline step, and to resolve
// observer workflows.
func (i *Index) Lookup(name string) (*config.WorkflowDefinition, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Workflows.Lookup(name)
}

// Agents and Parties expose the sibling registries loaded alongside
// workflows, under the same lock: a reload replaces the whole
// *config.Config atomically, so every registry from one Load call is
// always read together.
func (i *Index) Agents() *config.AgentDefinitionRegistry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Agents
}

func (i *Index) Parties() *config.PartyDefinitionRegistry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Parties
}

func (i *Index) Pipelines() *config.PipelineDefinitionRegistry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Pipelines
}
