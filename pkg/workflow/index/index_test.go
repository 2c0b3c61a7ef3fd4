package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobby-dev/gobby/pkg/config"
)

func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, "workflows")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.yaml"), []byte(yaml), 0o644))

	cfg, err := config.Load(config.Dirs{UserDir: t.TempDir(), ProjectDir: projectDir}, nil)
	require.NoError(t, err)
	return cfg
}

func TestIndex_ByTriggerReturnsSortedCandidates(t *testing.T) {
	cfg := loadTestConfig(t, `
- name: low
  priority: 9
  triggers:
    stop: [{action: set_session_variable, with: {name: a, value: 1}}]
- name: high
  priority: 1
  triggers:
    stop: [{action: set_session_variable, with: {name: a, value: 2}}]
`)
	idx := New(cfg)
	candidates := idx.ByTrigger("stop")
	require.Len(t, candidates, 2)
	assert.Equal(t, "high", candidates[0].Name)
	assert.Equal(t, "low", candidates[1].Name)
}

func TestIndex_ReloadReplacesSnapshotAtomically(t *testing.T) {
	cfg := loadTestConfig(t, `
- name: w1
  priority: 1
  triggers:
    stop: [{action: set_session_variable, with: {name: a, value: 1}}]
`)
	idx := New(cfg)
	assert.Len(t, idx.ByTrigger("stop"), 1)

	cfg2 := loadTestConfig(t, `
- name: w1
  priority: 1
  triggers:
    stop: [{action: set_session_variable, with: {name: a, value: 1}}]
- name: w2
  priority: 2
  triggers:
    stop: [{action: set_session_variable, with: {name: a, value: 2}}]
`)
	idx.Reload(cfg2)
	assert.Len(t, idx.ByTrigger("stop"), 2)
}
