package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// daemonBinary returns the resolved path of the running executable.
func daemonBinary() (string, error) {
	binary, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("finding binary path: %w", err)
	}
	binary, err = filepath.EvalSymlinks(binary)
	if err != nil {
		return "", fmt.Errorf("resolving binary path: %w", err)
	}
	return binary, nil
}
