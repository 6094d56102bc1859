package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: n2
peers:
  - 127.0.0.1:7601
  - 127.0.0.1:7602
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "n2", cfg.NodeID)
	assert.Equal(t, []string{"127.0.0.1:7601", "127.0.0.1:7602"}, cfg.Peers)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().BindAddr, cfg.BindAddr)
	assert.Equal(t, Default().Election, cfg.Election)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/catalog.yaml")
	assert.Error(t, err)
}

func TestValidateRequiresNodeID(t *testing.T) {
	cfg := Default()
	cfg.NodeID = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBindAddr(t *testing.T) {
	cfg := Default()
	cfg.BindAddr = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestElectionTimeoutParsesDurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
election_timeout: 300ms
heartbeat_timeout: 100ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Duration(300*time.Millisecond), cfg.Election)
	assert.Equal(t, Duration(100*time.Millisecond), cfg.Heartbeat)
}
