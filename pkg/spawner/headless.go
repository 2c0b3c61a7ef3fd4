package spawner

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// HeadlessDriver launches a child CLI process with captured stdio; PID
// observability is direct (cmd.Process.Pid), per spec.md §4.3's
// headless mode row.
type HeadlessDriver struct{}

func (d *HeadlessDriver) Start(ctx context.Context, spawn Spawn) (*Handle, error) {
	cmd := exec.CommandContext(ctx, spawn.Command, spawn.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawner: headless stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawner: headless stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawner: start headless child: %w", err)
	}

	return &Handle{PID: cmd.Process.Pid, Stdin: stdin, Stdout: stdout}, nil
}

func (d *HeadlessDriver) Terminate(ctx context.Context, h *Handle, style TerminateStyle, grace time.Duration) error {
	return terminateProcess(h.PID, style, grace)
}
