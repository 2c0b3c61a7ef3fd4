package spawner

import (
	"context"
	"fmt"
	"time"
)

// TerminalLauncher opens a terminal-emulator window running a command.
// The specific terminal emulator to launch is out of scope (spec.md
// §1); this narrow interface is the seam a platform integration fills
// in. The emulator's own PID is not returned because spec.md §4.3 notes
// it is "often useless (exits immediately)" — the real child PID is
// discovered later via the registry's PID-discovery algorithm.
type TerminalLauncher interface {
	Launch(ctx context.Context, spawn Spawn) error
}

// TerminalDriver implements spec.md §4.3's terminal mode: a terminal
// emulator opens a window and the CLI runs within it.
type TerminalDriver struct {
	Launcher TerminalLauncher
}

func (d *TerminalDriver) Start(ctx context.Context, spawn Spawn) (*Handle, error) {
	if err := d.Launcher.Launch(ctx, spawn); err != nil {
		return nil, fmt.Errorf("spawner: launch terminal: %w", err)
	}
	// PID is unknown until the registry's DiscoverPID backfills
	// Handle.PID via terminal_context.parent_pid or process enumeration.
	return &Handle{}, nil
}

func (d *TerminalDriver) Terminate(ctx context.Context, h *Handle, style TerminateStyle, grace time.Duration) error {
	if h.PID == 0 {
		// The registry runs PID discovery before calling Terminate and
		// either backfills h.PID or handles ErrPIDUnreachable itself
		// without reaching the driver at all; PID == 0 here means a
		// caller invoked the driver directly, skipping that step.
		return fmt.Errorf("spawner: terminal child pid not yet discovered")
	}
	return terminateProcess(h.PID, style, grace)
}
