package hooks

import (
	"encoding/json"
	"fmt"
)

var canonicalEventTypes = map[string]bool{
	EventSessionStart:     true,
	EventSessionEnd:       true,
	EventBeforeAgent:      true,
	EventAfterAgent:       true,
	EventBeforeTool:       true,
	EventAfterTool:        true,
	EventPreCompact:       true,
	EventStop:             true,
	EventUserPromptSubmit: true,
}

// GenericAdapter passes through a payload that already matches the
// canonical HookEvent shape (spec.md §6.2), used by SDK-embedded chat
// sessions that emit no session_start/session_end of their own and
// instead report their first before_agent as the session's
// initialization point (spec.md §4.6).
type GenericAdapter struct{}

type genericPayload struct {
	EventType string         `json:"event_type"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data"`
}

func (a *GenericAdapter) Normalize(raw []byte) (HookEvent, error) {
	var p genericPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return HookEvent{}, err
	}
	if !canonicalEventTypes[p.EventType] {
		return HookEvent{}, &ErrUnrecognizedEvent{Source: "generic", Raw: p.EventType}
	}
	if p.SessionID == "" {
		return HookEvent{}, fmt.Errorf("hooks: generic payload missing session_id")
	}
	return HookEvent{EventType: p.EventType, SessionID: p.SessionID, Data: p.Data}, nil
}
