package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gobby-dev/gobby/pkg/store"
)

// DiscoverPID implements the terminal-mode PID-discovery algorithm of
// spec.md §4.3: prefer a PID the CLI's own session-start hook deposited
// into terminal_context.parent_pid, falling back to scanning every
// running process' command line for this session's spawn marker
// (spec.md §6.4).
func DiscoverPID(ctx context.Context, sess *store.Session) (int, error) {
	if pid, ok := parentPID(sess); ok {
		return pid, nil
	}
	return discoverByMarker(ctx, sess.ID)
}

func parentPID(sess *store.Session) (int, bool) {
	raw, ok := sess.TerminalContext["parent_pid"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func discoverByMarker(ctx context.Context, sessionID string) (int, error) {
	marker := fmt.Sprintf("Your Gobby session_id is: %s", sessionID)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: enumerate processes: %w", err)
	}
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue // process exited mid-scan or access denied; skip it
		}
		if strings.Contains(cmdline, marker) {
			return int(p.Pid), nil
		}
	}
	return 0, ErrPIDUnreachable
}

// ErrPIDUnreachable means neither the hook deposit nor marker scan
// found the child; the caller marks the run killed with a PID-miss
// note (spec.md §4.3 step 3).
var ErrPIDUnreachable = fmt.Errorf("registry: child process unreachable for pid discovery")
