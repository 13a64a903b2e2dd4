package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeedsExpectedFields(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.RequiredTools, "lsblk")
	assert.Contains(t, cfg.RequiredTools, "grub-reboot")
	assert.Equal(t, int64(64*1024*1024), cfg.StagingSlackBytes)
	assert.Equal(t, "Reboot", cfg.DefaultFailureMode)
	assert.Nil(t, cfg.MMCIndexOverride)
}

func TestLoadOverlaysOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
staging_slack_bytes = 1048576
default_failure_mode = "RescueShell"
mmc_index_override = 1
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(1048576), cfg.StagingSlackBytes)
	assert.Equal(t, "RescueShell", cfg.DefaultFailureMode)
	require.NotNil(t, cfg.MMCIndexOverride)
	assert.Equal(t, 1, *cfg.MMCIndexOverride)

	// Fields the file never mentions keep Default()'s values.
	assert.Contains(t, cfg.RequiredTools, "lsblk")
	assert.Equal(t, "-", cfg.LogDevice)
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not valid toml [[["), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
