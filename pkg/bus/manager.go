package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Bus manages in-process channel subscriptions plus any attached
// dashboard WebSocket connections. One Bus instance lives for the
// lifetime of the daemon process (spec.md §4.5).
type Bus struct {
	// connections: connection_id -> *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// channels: channel -> set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	// listeners: in-process subscribers that aren't WebSocket clients,
	// e.g. pkg/registry waiting on lifecycle events for a session.
	listeners   map[string][]chan Event
	listenersMu sync.Mutex

	writeTimeout time.Duration
}

// Connection represents one attached dashboard WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes
// happen on the single goroutine that owns this connection (the read
// loop in HandleConnection and its deferred cleanup), the same
// invariant the teacher's ConnectionManager documents for its
// Connection type.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewBus constructs an empty Bus.
func NewBus(writeTimeout time.Duration) *Bus {
	return &Bus{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		listeners:    make(map[string][]chan Event),
		writeTimeout: writeTimeout,
	}
}

// Publish delivers an event to every WebSocket connection and every
// in-process listener subscribed to channel. Best-effort: a slow or
// gone subscriber never blocks the publisher for more than
// writeTimeout per WebSocket connection, and in-process listeners
// receive on a buffered channel so a full buffer drops the event
// rather than blocking (spec.md §4.5's bus is explicitly best-effort
// for the real-time half; poll_messages against the persisted inbox
// is the law-abiding path).
func (b *Bus) Publish(evt Event) {
	b.broadcastWebSocket(evt)
	b.broadcastListeners(evt)
}

func (b *Bus) broadcastWebSocket(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("bus: failed to marshal event", "error", err)
		return
	}

	b.channelMu.RLock()
	connIDs, exists := b.channels[evt.Channel]
	if !exists {
		b.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	b.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending, so a slow write never stalls register/unregister.
	b.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := b.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	b.mu.RUnlock()

	for _, conn := range conns {
		if err := b.sendRaw(conn, payload); err != nil {
			slog.Warn("bus: failed to send to websocket client", "connection_id", conn.ID, "error", err)
		}
	}
}

func (b *Bus) broadcastListeners(evt Event) {
	b.listenersMu.Lock()
	chans := append([]chan Event{}, b.listeners[evt.Channel]...)
	b.listenersMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			slog.Warn("bus: listener channel full, dropping event", "channel", evt.Channel)
		}
	}
}

// Subscribe registers an in-process listener for channel and returns a
// channel of events plus an unsubscribe func. Used by components that
// want to react to bus events without going through WebSocket framing,
// e.g. a `wait_for_task` poller shortcutting its poll interval on a
// task.status event.
func (b *Bus) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.listenersMu.Lock()
	b.listeners[channel] = append(b.listeners[channel], ch)
	b.listenersMu.Unlock()

	unsubscribe := func() {
		b.listenersMu.Lock()
		defer b.listenersMu.Unlock()
		subs := b.listeners[channel]
		for i, c := range subs {
			if c == ch {
				b.listeners[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe
}

// ActiveConnections returns the count of attached dashboard connections.
func (b *Bus) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

// HandleConnection manages one dashboard WebSocket connection's
// lifecycle. Blocks until the connection closes.
func (b *Bus) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	b.registerConnection(c)
	defer b.unregisterConnection(c)

	b.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": connID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("bus: invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		b.handleClientMessage(c, &msg)
	}
}

func (b *Bus) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			b.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		b.subscribeConn(c, msg.Channel)
		b.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
	case "unsubscribe":
		if msg.Channel == "" {
			b.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		b.unsubscribeConn(c, msg.Channel)
	case "ping":
		b.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (b *Bus) subscribeConn(c *Connection, channel string) {
	b.channelMu.Lock()
	if _, exists := b.channels[channel]; !exists {
		b.channels[channel] = make(map[string]bool)
	}
	b.channels[channel][c.ID] = true
	b.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (b *Bus) unsubscribeConn(c *Connection, channel string) {
	b.channelMu.Lock()
	if subs, exists := b.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(b.channels, channel)
		}
	}
	b.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

func (b *Bus) registerConnection(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[c.ID] = c
}

func (b *Bus) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		b.unsubscribeConn(c, ch)
	}
	b.mu.Lock()
	delete(b.connections, c.ID)
	b.mu.Unlock()
	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bus) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("bus: failed to marshal message", "connection_id", c.ID, "error", err)
		return
	}
	if err := b.sendRaw(c, data); err != nil {
		slog.Warn("bus: failed to send message", "connection_id", c.ID, "error", err)
	}
}

func (b *Bus) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, b.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
