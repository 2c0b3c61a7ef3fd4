// Package bus implements the Messaging Bus (spec.md §4.5): a
// persisted point-to-point inbox (pkg/store's MessageManager) plus a
// best-effort, in-process real-time fan-out keyed by session id, with
// an optional coder/websocket surface for a connected dashboard
// process to observe live task/message/agent-run/party events.
package bus

// Event types broadcast over the bus. Unlike the teacher's timeline
// events these are not persisted by this package — pkg/store already
// holds the durable record (Task, Message, AgentRun, Party rows); an
// Event here is a notification that a durable record changed.
const (
	EventTypeMessageReceived  = "message.received"
	EventTypeTaskStatus       = "task.status"
	EventTypeAgentRunStatus   = "agent_run.status"
	EventTypePartyStatus      = "party.status"
	EventTypeStopSignalRaised = "stop_signal.raised"
)

// GlobalChannel carries events not scoped to a single session (e.g.
// party-wide status changes). A dashboard connection receives it only
// after sending a subscribe message for it, like any other channel.
const GlobalChannel = "global"

// SessionChannel returns the channel name for a session's events.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// Event is the payload broadcast to subscribers of a channel.
type Event struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel"`
	Data    map[string]any `json:"data"`
}

// ClientMessage is the JSON structure for client -> server WebSocket
// messages sent by a connected dashboard.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"`
}
