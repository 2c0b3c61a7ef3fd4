package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gobby-dev/gobby/pkg/store"
)

// scriptedEnricher returns queued responses in call order, the same
// fixed-response-per-call shape the teacher's LLMClient test doubles
// use (pkg/agent's test fakes for Controller).
type scriptedEnricher struct {
	responses []string
	calls     int
}

func (e *scriptedEnricher) Enrich(ctx context.Context, instruction, input string) (string, error) {
	r := e.responses[e.calls]
	e.calls++
	return r, nil
}

func TestGraph_ParseSpecPersistsEachStub(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{}).
		WithEnricher(&scriptedEnricher{responses: []string{
			`[{"title":"set up repo","description":"init module"},{"title":"write tests","description":"cover the happy path","priority":2}]`,
		}})
	ctx := context.Background()

	created, err := g.ParseSpec(ctx, "proj-parse", "build a thing")
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, "set up repo", created[0].Title)
	require.Equal(t, 2, created[1].Priority)
}

func TestGraph_EnrichTaskSetsValidationCriteriaAndReferenceDoc(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{}).
		WithEnricher(&scriptedEnricher{responses: []string{
			`{"validation_criteria":"tests pass","reference_doc":"docs/spec.md"}`,
		}})
	ctx := context.Background()

	projectID := "proj-enrich"
	task, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "needs enrichment"})
	require.NoError(t, err)

	enriched, err := g.EnrichTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, enriched.ValidationCriteria)
	require.Equal(t, "tests pass", *enriched.ValidationCriteria)
	require.Equal(t, "docs/spec.md", *enriched.ReferenceDoc)
	require.True(t, enriched.IsEnriched)
}

func TestGraph_ExpandTaskCreatesChildrenAndMarksParent(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{}).
		WithEnricher(&scriptedEnricher{responses: []string{
			`[{"title":"child one","description":"part one"},{"title":"child two","description":"part two"}]`,
		}})
	ctx := context.Background()

	projectID := "proj-expand"
	parent, err := g.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "big task"})
	require.NoError(t, err)

	children, err := g.ExpandTask(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, parent.ID, *children[0].ParentTaskID)

	got, err := s.Tasks.Get(ctx, parent.ID)
	require.NoError(t, err)
	require.True(t, got.IsExpanded)
}

func TestGraph_ApplyTDDOnlyFlipsFlagOnAffirmation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	projectID := "proj-tdd"

	declined := New(s.Tasks, s.Sessions, WaitConfig{}).
		WithEnricher(&scriptedEnricher{responses: []string{"no, there is no failing test yet"}})
	task, err := declined.CreateTask(ctx, &store.Task{ProjectID: &projectID, Title: "needs a test first"})
	require.NoError(t, err)
	got, applied, err := declined.ApplyTDD(ctx, task.ID)
	require.NoError(t, err)
	require.False(t, applied)
	require.False(t, got.IsTDDApplied)

	confirmed := New(s.Tasks, s.Sessions, WaitConfig{}).
		WithEnricher(&scriptedEnricher{responses: []string{"yes"}})
	got, applied, err = confirmed.ApplyTDD(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, got.IsTDDApplied)
}

func TestGraph_EnricherMethodsFailWithoutEnricherConfigured(t *testing.T) {
	s := newTestStore(t)
	g := New(s.Tasks, s.Sessions, WaitConfig{})
	ctx := context.Background()

	_, err := g.ParseSpec(ctx, "proj-x", "spec text")
	require.ErrorContains(t, err, "no enricher configured")
	_, err = g.EnrichTask(ctx, "task-missing")
	require.ErrorContains(t, err, "no enricher configured")
	_, err = g.ExpandTask(ctx, "task-missing")
	require.ErrorContains(t, err, "no enricher configured")
	_, _, err = g.ApplyTDD(ctx, "task-missing")
	require.ErrorContains(t, err, "no enricher configured")
}
