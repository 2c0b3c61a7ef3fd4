package hooks

import "encoding/json"

// GeminiAdapter normalizes the Gemini CLI's hook payload shape:
// camelCase fields and a lowercase, underscore-free event name.
type GeminiAdapter struct{}

type geminiPayload struct {
	Event      string          `json:"event"`
	SessionID  string          `json:"sessionId"`
	ToolName   string          `json:"toolName"`
	ToolArgs   json.RawMessage `json:"toolArgs"`
	ToolResult json.RawMessage `json:"toolResult"`
	UserInput  string          `json:"userInput"`
}

var geminiEventTypes = map[string]string{
	"sessionstart":     EventSessionStart,
	"sessionend":       EventSessionEnd,
	"userpromptsubmit": EventUserPromptSubmit,
	"beforetoolcall":   EventBeforeTool,
	"aftertoolcall":    EventAfterTool,
	"precompact":       EventPreCompact,
	"stop":             EventStop,
}

func (a *GeminiAdapter) Normalize(raw []byte) (HookEvent, error) {
	var p geminiPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return HookEvent{}, err
	}
	eventType, ok := geminiEventTypes[p.Event]
	if !ok {
		return HookEvent{}, &ErrUnrecognizedEvent{Source: "gemini", Raw: p.Event}
	}

	data := map[string]any{}
	if p.ToolName != "" {
		data["tool_name"] = p.ToolName
	}
	if len(p.ToolArgs) > 0 {
		data["tool_input"] = decodeRaw(p.ToolArgs)
	}
	if len(p.ToolResult) > 0 {
		data["tool_response"] = decodeRaw(p.ToolResult)
	}
	if p.UserInput != "" {
		data["prompt"] = p.UserInput
	}

	return HookEvent{EventType: eventType, SessionID: p.SessionID, Data: data}, nil
}
