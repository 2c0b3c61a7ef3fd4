package hooks

import "encoding/json"

// CodexAdapter normalizes the Codex CLI's hook payload shape: a flat
// "type" discriminator plus a nested "payload" object.
type CodexAdapter struct{}

type codexPayload struct {
	Type    string          `json:"type"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
}

type codexToolPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
}

type codexPromptPayload struct {
	Text string `json:"text"`
}

var codexEventTypes = map[string]string{
	"session.started":    EventSessionStart,
	"session.ended":      EventSessionEnd,
	"prompt.submitted":   EventUserPromptSubmit,
	"tool.before_call":   EventBeforeTool,
	"tool.after_call":    EventAfterTool,
	"context.precompact": EventPreCompact,
	"turn.stop":          EventStop,
}

func (a *CodexAdapter) Normalize(raw []byte) (HookEvent, error) {
	var p codexPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return HookEvent{}, err
	}
	eventType, ok := codexEventTypes[p.Type]
	if !ok {
		return HookEvent{}, &ErrUnrecognizedEvent{Source: "codex", Raw: p.Type}
	}

	data := map[string]any{}
	switch eventType {
	case EventBeforeTool, EventAfterTool:
		var tp codexToolPayload
		if len(p.Payload) > 0 {
			_ = json.Unmarshal(p.Payload, &tp)
		}
		data["tool_name"] = tp.Name
		if len(tp.Arguments) > 0 {
			data["tool_input"] = decodeRaw(tp.Arguments)
		}
		if len(tp.Result) > 0 {
			data["tool_response"] = decodeRaw(tp.Result)
		}
	case EventUserPromptSubmit:
		var pp codexPromptPayload
		if len(p.Payload) > 0 {
			_ = json.Unmarshal(p.Payload, &pp)
		}
		data["prompt"] = pp.Text
	}

	return HookEvent{EventType: eventType, SessionID: p.Session, Data: data}, nil
}
