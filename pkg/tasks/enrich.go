package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gobby-dev/gobby/pkg/store"
)

// Enricher is the out-of-scope LLM seam parse_spec/enrich_task/
// expand_task/apply_tdd call through, declared here rather than
// imported so pkg/tasks never depends on whatever sits behind the
// seam — the identical caller-filled-seam pattern pkg/pipeline.Prompter
// establishes for prompt steps.
type Enricher interface {
	Enrich(ctx context.Context, instruction, input string) (string, error)
}

// WithEnricher attaches the LLM seam used by ParseSpec/EnrichTask/
// ExpandTask/ApplyTDD. A Graph with no enricher attached fails those
// four methods outright rather than silently no-op'ing; every other
// method is unaffected.
func (g *Graph) WithEnricher(e Enricher) *Graph {
	g.enricher = e
	return g
}

type taskStub struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

const parseSpecInstruction = `Break the following specification document into a JSON array of ` +
	`objects, each with "title", "description", and optionally "category" and "priority" (0-10). ` +
	`Respond with the JSON array only.`

// ParseSpec implements tasks.parse_spec (spec.md §6.1): it hands the
// raw spec text to the enricher and persists whatever task stubs come
// back, in the order given, as top-level pending tasks for projectID.
func (g *Graph) ParseSpec(ctx context.Context, projectID, specText string) ([]*store.Task, error) {
	if g.enricher == nil {
		return nil, errNoEnricher("parse_spec")
	}
	raw, err := g.enricher.Enrich(ctx, parseSpecInstruction, specText)
	if err != nil {
		return nil, fmt.Errorf("tasks: parse_spec: %w", err)
	}
	var stubs []taskStub
	if err := json.Unmarshal([]byte(raw), &stubs); err != nil {
		return nil, fmt.Errorf("tasks: parse_spec: decode enricher output: %w", err)
	}

	out := make([]*store.Task, 0, len(stubs))
	for _, stub := range stubs {
		t := &store.Task{
			ProjectID:   &projectID,
			Title:       stub.Title,
			Description: stub.Description,
			Priority:    stub.Priority,
		}
		if stub.Category != "" {
			t.Category = &stub.Category
		}
		created, err := g.tasks.Create(ctx, t)
		if err != nil {
			return out, fmt.Errorf("tasks: parse_spec: create task %q: %w", stub.Title, err)
		}
		out = append(out, created)
	}
	return out, nil
}

type enrichment struct {
	ValidationCriteria string `json:"validation_criteria"`
	ReferenceDoc       string `json:"reference_doc"`
}

const enrichTaskInstruction = `Given a task's title and description, respond with JSON ` +
	`{"validation_criteria": "...", "reference_doc": "..."} describing how to verify the task ` +
	`is done and where relevant reference material lives.`

// EnrichTask implements tasks.enrich_task: derives validation criteria
// and a reference doc pointer for an existing task.
func (g *Graph) EnrichTask(ctx context.Context, taskID string) (*store.Task, error) {
	if g.enricher == nil {
		return nil, errNoEnricher("enrich_task")
	}
	t, err := g.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("tasks: enrich_task: %w", err)
	}
	raw, err := g.enricher.Enrich(ctx, enrichTaskInstruction, t.Title+"\n"+t.Description)
	if err != nil {
		return nil, fmt.Errorf("tasks: enrich_task: %w", err)
	}
	var e enrichment
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("tasks: enrich_task: decode enricher output: %w", err)
	}
	return g.tasks.SetEnrichment(ctx, taskID, e.ValidationCriteria, e.ReferenceDoc)
}

const expandTaskInstruction = `Given a task's title and description, break it into a JSON array of ` +
	`subtask objects, each with "title" and "description". Respond with the JSON array only.`

// ExpandTask implements tasks.expand_task: breaks an existing task
// into persisted child tasks (parent_task_id set), then marks the
// parent expanded.
func (g *Graph) ExpandTask(ctx context.Context, taskID string) ([]*store.Task, error) {
	if g.enricher == nil {
		return nil, errNoEnricher("expand_task")
	}
	parent, err := g.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("tasks: expand_task: %w", err)
	}
	raw, err := g.enricher.Enrich(ctx, expandTaskInstruction, parent.Title+"\n"+parent.Description)
	if err != nil {
		return nil, fmt.Errorf("tasks: expand_task: %w", err)
	}
	var stubs []taskStub
	if err := json.Unmarshal([]byte(raw), &stubs); err != nil {
		return nil, fmt.Errorf("tasks: expand_task: decode enricher output: %w", err)
	}

	children := make([]*store.Task, 0, len(stubs))
	for _, stub := range stubs {
		child := &store.Task{
			ProjectID:    parent.ProjectID,
			Title:        stub.Title,
			Description:  stub.Description,
			ParentTaskID: &taskID,
			Priority:     parent.Priority,
		}
		created, err := g.tasks.Create(ctx, child)
		if err != nil {
			return children, fmt.Errorf("tasks: expand_task: create subtask %q: %w", stub.Title, err)
		}
		children = append(children, created)
	}

	if _, err := g.tasks.MarkExpanded(ctx, taskID, raw); err != nil {
		return children, fmt.Errorf("tasks: expand_task: mark expanded: %w", err)
	}
	return children, nil
}

const applyTDDInstruction = `Given a task's title and description, respond "yes" only if a failing ` +
	`test already demonstrates the task's requirement ahead of its implementation; otherwise explain ` +
	`what test is missing.`

// ApplyTDD implements tasks.apply_tdd: asks the enricher to confirm a
// failing test precedes the task's implementation, recording the
// outcome but only flipping is_tdd_applied on confirmation.
func (g *Graph) ApplyTDD(ctx context.Context, taskID string) (*store.Task, bool, error) {
	if g.enricher == nil {
		return nil, false, errNoEnricher("apply_tdd")
	}
	t, err := g.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, false, fmt.Errorf("tasks: apply_tdd: %w", err)
	}
	verdict, err := g.enricher.Enrich(ctx, applyTDDInstruction, t.Title+"\n"+t.Description)
	if err != nil {
		return nil, false, fmt.Errorf("tasks: apply_tdd: %w", err)
	}
	if !isAffirmative(verdict) {
		return t, false, nil
	}
	applied, err := g.tasks.MarkTDDApplied(ctx, taskID)
	return applied, true, err
}

func isAffirmative(s string) bool {
	return len(s) >= 3 && (s[:3] == "yes" || s[:3] == "Yes" || s[:3] == "YES")
}

func errNoEnricher(tool string) error {
	return fmt.Errorf("tasks: %s: no enricher configured", tool)
}
