package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeAdapter_NormalizesPreToolUse(t *testing.T) {
	raw := []byte(`{
		"hook_event_name": "PreToolUse",
		"session_id": "sess-1",
		"tool_name": "Edit",
		"tool_input": {"path": "main.go"}
	}`)
	evt, err := (&ClaudeAdapter{}).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, EventBeforeTool, evt.EventType)
	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, "Edit", evt.Data["tool_name"])
	assert.Equal(t, map[string]any{"path": "main.go"}, evt.Data["tool_input"])
}

func TestClaudeAdapter_UnrecognizedEventNameErrors(t *testing.T) {
	raw := []byte(`{"hook_event_name": "Unknown", "session_id": "sess-1"}`)
	_, err := (&ClaudeAdapter{}).Normalize(raw)
	var unrecognized *ErrUnrecognizedEvent
	assert.ErrorAs(t, err, &unrecognized)
}

func TestGeminiAdapter_NormalizesBeforeToolCall(t *testing.T) {
	raw := []byte(`{"event": "beforetoolcall", "sessionId": "sess-2", "toolName": "write_file", "toolArgs": {"a": 1}}`)
	evt, err := (&GeminiAdapter{}).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, EventBeforeTool, evt.EventType)
	assert.Equal(t, "sess-2", evt.SessionID)
	assert.Equal(t, "write_file", evt.Data["tool_name"])
}

func TestCodexAdapter_NormalizesToolBeforeCall(t *testing.T) {
	raw := []byte(`{"type": "tool.before_call", "session": "sess-3",
		"payload": {"name": "apply_patch", "arguments": {"diff": "x"}}}`)
	evt, err := (&CodexAdapter{}).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, EventBeforeTool, evt.EventType)
	assert.Equal(t, "sess-3", evt.SessionID)
	assert.Equal(t, "apply_patch", evt.Data["tool_name"])
}

func TestGenericAdapter_PassesThroughCanonicalShape(t *testing.T) {
	raw := []byte(`{"event_type": "before_agent", "session_id": "sess-4", "data": {"k": "v"}}`)
	evt, err := (&GenericAdapter{}).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, EventBeforeAgent, evt.EventType)
	assert.Equal(t, "sess-4", evt.SessionID)
	assert.Equal(t, "v", evt.Data["k"])
}

func TestGenericAdapter_MissingSessionIDErrors(t *testing.T) {
	raw := []byte(`{"event_type": "before_agent", "data": {}}`)
	_, err := (&GenericAdapter{}).Normalize(raw)
	assert.Error(t, err)
}

func TestRegistry_NormalizeDispatchesBySource(t *testing.T) {
	r := NewRegistry(nil)
	raw := []byte(`{"hook_event_name": "SessionStart", "session_id": "sess-5"}`)
	evt, err := r.Normalize("claude", raw)
	require.NoError(t, err)
	assert.Equal(t, EventSessionStart, evt.EventType)
	assert.Equal(t, "claude", evt.Source)
}

func TestRegistry_UnknownSourceErrors(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Normalize("unknown-cli", []byte(`{}`))
	assert.Error(t, err)
}

func TestBoundarySynthesizer_SynthesizesSessionStartOnFirstBeforeAgent(t *testing.T) {
	b := NewBoundarySynthesizer()
	first := HookEvent{EventType: EventBeforeAgent, SessionID: "sess-6", Source: "generic"}

	synthetic, original := b.Observe(first)
	require.NotNil(t, synthetic)
	assert.Equal(t, EventSessionStart, synthetic.EventType)
	assert.Equal(t, first, original)

	synthetic, original = b.Observe(first)
	assert.Nil(t, synthetic)
	assert.Equal(t, first, original)
}

func TestBoundarySynthesizer_NonBeforeAgentPassesThroughUnchanged(t *testing.T) {
	b := NewBoundarySynthesizer()
	evt := HookEvent{EventType: EventAfterTool, SessionID: "sess-7"}
	synthetic, original := b.Observe(evt)
	assert.Nil(t, synthetic)
	assert.Equal(t, evt, original)
}
