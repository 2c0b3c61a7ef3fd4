package spawner

import (
	"context"
	"sync"
	"time"
)

// InProcessDriver runs a spawn as a goroutine inside the daemon,
// mirroring the teacher's in_process cancellation path
// (pkg/queue's activeSessions map[string]context.CancelFunc registry).
// Run is supplied by the caller; the actual LLM SDK call this spawn
// mode would make is out of scope (spec.md §1), so Run is a seam a
// caller fills in rather than a concrete implementation here.
type InProcessDriver struct {
	Run func(ctx context.Context, spawn Spawn) error

	mu     sync.Mutex
	nextID int
}

// Start launches Run in a goroutine and returns a Handle whose PID is a
// negative pseudo-id (real OS PIDs are always positive, so this never
// collides with one) identifying the in-process task for cancellation.
func (d *InProcessDriver) Start(ctx context.Context, spawn Spawn) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.nextID--
	pid := d.nextID
	d.mu.Unlock()

	go func() {
		if d.Run != nil {
			_ = d.Run(runCtx, spawn)
		}
	}()

	return &Handle{PID: pid, cancel: cancel}, nil
}

// Terminate cancels the in-process task's context. style is accepted
// for interface parity; in_process termination is always cooperative
// cancellation (spec.md §4.3's kill_agent: "For in_process, cancel the
// task").
func (d *InProcessDriver) Terminate(ctx context.Context, h *Handle, style TerminateStyle, grace time.Duration) error {
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}
