// ABOUTME: XDG-based data and config directory resolution for the buddy CLI.
// ABOUTME: Checks XDG_DATA_HOME / XDG_CONFIG_HOME, falls back to ~/.local/share/buddy and ~/.config/buddy.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default directory for session journals and the
// sqlite run store. It checks XDG_DATA_HOME first, then ~/.local/share/buddy.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "buddy"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "buddy"), nil
}

// defaultConfigDir returns the default directory for buddy configuration.
// It checks XDG_CONFIG_HOME first, then ~/.config/buddy.
func defaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "buddy"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".config", "buddy"), nil
}

// resolveDataDir prefers the flag, then the configured value, then the XDG default.
func resolveDataDir(flagValue, configured string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if configured != "" {
		return configured, nil
	}
	return defaultDataDir()
}
