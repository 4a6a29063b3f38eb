// Package paths resolves coursetrack's on-disk locations.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath returns the global config file path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	return filepath.Join(home, ".config", "coursetrack", "config.toml"), nil
}

// DefaultDataDir returns the directory holding the assignment store and
// the saved session snapshot.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "coursetrack"), nil
}
