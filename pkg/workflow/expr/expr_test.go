package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EmptyExpressionAlwaysMatches(t *testing.T) {
	ok, err := New().Eval("", Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_BindsVariablesAndSession(t *testing.T) {
	ctx := Context{
		Variables: map[string]any{"attempt": 2},
		Session:   map[string]any{"reviewed": true},
	}
	ok, err := New().Eval(`variables["attempt"].(int) > 1 && session["reviewed"].(bool)`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_BindsToolNameAndEventType(t *testing.T) {
	ctx := Context{EventType: "before_tool", ToolName: "Edit"}
	ok, err := New().Eval(`event == "before_tool" && tool_name == "Edit"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_CallsRegisteredConditionFunctions(t *testing.T) {
	ctx := Context{
		Conditions: map[string]any{
			"user_says": func(keyword string) bool { return keyword == "done" },
		},
	}
	ok, err := New().Eval(`user_says("done")`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = New().Eval(`user_says("nope")`, ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_InvalidExpressionErrors(t *testing.T) {
	_, err := New().Eval(`this is not valid go`, Context{})
	assert.Error(t, err)
}
