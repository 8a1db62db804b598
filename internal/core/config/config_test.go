package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.PortStart)
	assert.Equal(t, 8099, cfg.Server.PortEnd)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 60*time.Minute, cfg.Bridge.SubmitTimeout)
	assert.Equal(t, 500, cfg.Workflow.SnapshotCap)
	assert.Equal(t, 10*time.Minute, cfg.Registry.StaleAfter)
	assert.NotEmpty(t, cfg.Registry.Path)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port_start: 9000
  port_end: 9005
bridge:
  submit_timeout: 5m
workflow:
  snapshot_cap: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.PortStart)
	assert.Equal(t, 9005, cfg.Server.PortEnd)
	assert.Equal(t, 5*time.Minute, cfg.Bridge.SubmitTimeout)
	assert.Equal(t, 50, cfg.Workflow.SnapshotCap)
	// untouched values keep their defaults
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoad_InvalidPortRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port_start: 9000\n  port_end: 8000\n"), 0o644))

	_, err := Load(path, dir)
	assert.Error(t, err)
}

func TestLoad_InvalidGlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  deny:\n    - '[unterminated'\n"), 0o644))

	_, err := Load(path, dir)
	assert.Error(t, err)
}

func TestCommandsConfig_Exposes(t *testing.T) {
	tests := []struct {
		name     string
		cfg      CommandsConfig
		command  string
		expected bool
	}{
		{"empty config exposes all", CommandsConfig{}, "create_object", true},
		{"deny wins", CommandsConfig{Deny: []string{"delete_*"}}, "delete_object", false},
		{"deny leaves others", CommandsConfig{Deny: []string{"delete_*"}}, "create_object", true},
		{"allow list is exclusive", CommandsConfig{Allow: []string{"get_*"}}, "create_object", false},
		{"allow match", CommandsConfig{Allow: []string{"get_*"}}, "get_object", true},
		{"deny beats allow", CommandsConfig{Allow: []string{"*"}, Deny: []string{"ping"}}, "ping", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.Exposes(tt.command))
		})
	}
}
