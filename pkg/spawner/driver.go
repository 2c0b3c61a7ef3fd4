// Package spawner implements the four agent spawn-mode drivers of
// spec.md §4.3: in_process, headless, terminal, and embedded.
package spawner

import (
	"context"
	"io"
	"time"
)

// TerminateStyle selects graceful ("polite") vs. immediate ("force")
// termination (spec.md §4.3's kill_agent contract).
type TerminateStyle int

const (
	TerminatePolite TerminateStyle = iota
	TerminateForce
)

// DefaultGrace is the wait window between a polite signal and
// escalating to a forceful kill (spec.md §4.3's "wait up to timeout,
// default 5s").
const DefaultGrace = 5 * time.Second

// Handle is the live state a Driver hands back for a spawned child.
type Handle struct {
	// PID is the OS process id where one exists. For in_process it is a
	// negative pseudo-id (a cancel func does the actual stopping); for
	// terminal mode it is zero until PID discovery backfills it.
	PID int
	// Stdout/Stdin are set for headless-mode children with captured
	// stdio.
	Stdout io.ReadCloser
	Stdin  io.WriteCloser
	// PTYFile is set only by the embedded driver: the master fd
	// exposed for UI streaming (spec.md §4.3's embedded mode).
	PTYFile io.ReadWriteCloser

	cancel context.CancelFunc // in_process only
}

// Spawn describes what to run: resolved command/args and the prompt
// preamble every spawn carries so terminal-mode PID discovery can find
// the child by its session marker (spec.md §4.3's
// "Your Gobby session_id is: <sid>" marker).
type Spawn struct {
	Command   string
	Args      []string
	Prompt    string
	SessionID string
}

// Driver runs one spawn mode of spec.md §4.3's table.
type Driver interface {
	Start(ctx context.Context, spawn Spawn) (*Handle, error)
	// Terminate stops a previously started child, waiting up to grace
	// before escalating from a polite to a forceful stop.
	Terminate(ctx context.Context, h *Handle, style TerminateStyle, grace time.Duration) error
}
