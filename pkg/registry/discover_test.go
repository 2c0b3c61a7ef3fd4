package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobby-dev/gobby/pkg/store"
)

func TestDiscoverPID_PrefersHookDepositedParentPID(t *testing.T) {
	sess := &store.Session{
		ID:              "sess-abc123",
		TerminalContext: map[string]any{"parent_pid": float64(4242)},
	}
	pid, err := DiscoverPID(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestDiscoverPID_FallsBackToMarkerScanWhenNoParentPID(t *testing.T) {
	sess := &store.Session{
		ID:              "sess-unreachable",
		TerminalContext: map[string]any{},
	}
	// No process on this machine carries this session's marker in its
	// command line, so discovery must report it as unreachable rather
	// than panicking or hanging.
	_, err := DiscoverPID(context.Background(), sess)
	assert.ErrorIs(t, err, ErrPIDUnreachable)
}
