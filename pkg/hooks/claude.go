package hooks

import "encoding/json"

// ClaudeAdapter normalizes Claude Code's hook payload shape: a
// PascalCase hook_event_name plus event-specific top-level fields.
type ClaudeAdapter struct{}

type claudePayload struct {
	HookEventName  string          `json:"hook_event_name"`
	SessionID      string          `json:"session_id"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input"`
	ToolResponse   json.RawMessage `json:"tool_response"`
	Prompt         string          `json:"prompt"`
	Reason         string          `json:"reason"`
	TranscriptPath string          `json:"transcript_path"`
	CWD            string          `json:"cwd"`
}

var claudeEventTypes = map[string]string{
	"SessionStart":     EventSessionStart,
	"SessionEnd":       EventSessionEnd,
	"UserPromptSubmit": EventUserPromptSubmit,
	"PreToolUse":       EventBeforeTool,
	"PostToolUse":      EventAfterTool,
	"PreCompact":       EventPreCompact,
	"Stop":             EventStop,
	"SubagentStop":     EventAfterAgent,
}

func (a *ClaudeAdapter) Normalize(raw []byte) (HookEvent, error) {
	var p claudePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return HookEvent{}, err
	}
	eventType, ok := claudeEventTypes[p.HookEventName]
	if !ok {
		return HookEvent{}, &ErrUnrecognizedEvent{Source: "claude", Raw: p.HookEventName}
	}

	data := map[string]any{"cwd": p.CWD, "transcript_path": p.TranscriptPath}
	if p.ToolName != "" {
		data["tool_name"] = p.ToolName
	}
	if len(p.ToolInput) > 0 {
		data["tool_input"] = decodeRaw(p.ToolInput)
	}
	if len(p.ToolResponse) > 0 {
		data["tool_response"] = decodeRaw(p.ToolResponse)
	}
	if p.Prompt != "" {
		data["prompt"] = p.Prompt
	}
	if p.Reason != "" {
		data["reason"] = p.Reason
	}

	return HookEvent{EventType: eventType, SessionID: p.SessionID, Data: data}, nil
}

func decodeRaw(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
