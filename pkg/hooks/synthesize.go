package hooks

import "sync"

// BoundarySynthesizer covers CLIs whose adapter never produces
// session_start/session_end (an SDK-embedded chat session has no
// concept of either): it turns that session's first before_agent into
// a synthetic session_start, gated by a `_session_initialized` flag
// per session so the synthesis fires exactly once (spec.md §4.6).
type BoundarySynthesizer struct {
	mu          sync.Mutex
	initialized map[string]bool
}

func NewBoundarySynthesizer() *BoundarySynthesizer {
	return &BoundarySynthesizer{initialized: make(map[string]bool)}
}

// Observe returns the event to evaluate first — a synthesized
// session_start ahead of evt, when this is evt.SessionID's first
// before_agent — or evt unchanged otherwise. Callers evaluate the
// returned synthetic event (if any) before evt itself.
func (b *BoundarySynthesizer) Observe(evt HookEvent) (synthetic *HookEvent, original HookEvent) {
	if evt.EventType != EventBeforeAgent {
		return nil, evt
	}
	b.mu.Lock()
	already := b.initialized[evt.SessionID]
	b.initialized[evt.SessionID] = true
	b.mu.Unlock()
	if already {
		return nil, evt
	}
	return &HookEvent{EventType: EventSessionStart, SessionID: evt.SessionID, Source: evt.Source, Data: evt.Data}, evt
}

// Forget drops a session's synthesized-boundary bookkeeping once it
// ends, so a later session reusing the same id (unlikely, but ids are
// caller-assigned for SDK-embedded sessions) starts fresh.
func (b *BoundarySynthesizer) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.initialized, sessionID)
	b.mu.Unlock()
}
