// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/xdg"
)

func TestConfigDir(t *testing.T) {
	t.Run("env var", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		assert.Equal(t, "/custom/config/accountd", xdg.ConfigDir())
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/testuser")
		assert.Equal(t, "/home/testuser/.config/accountd", xdg.ConfigDir())
	})
}

func TestConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	assert.Empty(t, xdg.ConfigFile(), "no file yet")

	dir := filepath.Join(base, "accountd")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, xdg.ConfigFileName), 0o700))
	assert.Empty(t, xdg.ConfigFile(), "a directory is not a config file")
	require.NoError(t, os.Remove(filepath.Join(dir, xdg.ConfigFileName)))

	path := filepath.Join(dir, xdg.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	assert.Equal(t, path, xdg.ConfigFile())
}
