package spawner

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// EmbeddedDriver allocates a PTY and attaches the child to it; the
// master fd is exposed for UI streaming (spec.md §4.3's embedded mode).
type EmbeddedDriver struct{}

func (d *EmbeddedDriver) Start(ctx context.Context, spawn Spawn) (*Handle, error) {
	cmd := exec.CommandContext(ctx, spawn.Command, spawn.Args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawner: allocate pty: %w", err)
	}
	return &Handle{PID: cmd.Process.Pid, PTYFile: f}, nil
}

// Terminate closes the PTY master before signaling the child, per
// spec.md §4.3's "For embedded, close the PTY master before signaling".
func (d *EmbeddedDriver) Terminate(ctx context.Context, h *Handle, style TerminateStyle, grace time.Duration) error {
	if h.PTYFile != nil {
		_ = h.PTYFile.Close()
	}
	return terminateProcess(h.PID, style, grace)
}
