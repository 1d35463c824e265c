package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSecretKeyConfiguredWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.SecretKey = "configured-key"
	cfg.Storage.DataDir = t.TempDir()

	key, err := EnsureSecretKey(cfg)
	require.NoError(t, err)
	assert.Equal(t, "configured-key", key)

	// Nothing persisted when the key comes from config.
	_, statErr := os.Stat(filepath.Join(cfg.Storage.DataDir, secretKeyFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsureSecretKeyGeneratesAndPersists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()

	key, err := EnsureSecretKey(cfg)
	require.NoError(t, err)
	assert.Len(t, key, 64) // 32 bytes hex-encoded

	info, err := os.Stat(filepath.Join(cfg.Storage.DataDir, secretKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Stable across restarts.
	again, err := EnsureSecretKey(cfg)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}
