// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates accountd files under the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "accountd"

// ConfigFileName is the file ConfigFile looks for in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for accountd.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default configuration file, or "" when there is none.
func ConfigFile() string {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
