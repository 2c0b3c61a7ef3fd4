//go:build windows

package spawner

import (
	"fmt"
	"os"
	"time"
)

// terminateProcess on Windows has no SIGINT equivalent reachable from a
// detached process, so both styles kill directly (spec.md §9 Open
// Question 4).
func terminateProcess(pid int, style TerminateStyle, grace time.Duration) error {
	if pid == 0 {
		return fmt.Errorf("spawner: no pid to terminate")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
