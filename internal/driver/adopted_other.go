//go:build !darwin

package driver

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// processName returns the executable name for pid from /proc.
func processName(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", fmt.Errorf("read /proc/%d/comm: %w", pid, err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("empty process name for pid %d", pid)
	}
	return name, nil
}

// statFields returns the fields of /proc/<pid>/stat after the command name,
// so rest[0] is field 3 (state).
func statFields(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, fmt.Errorf("read /proc/%d/stat: %w", pid, err)
	}
	// The comm field is parenthesised and may contain spaces.
	s := string(data)
	closeIdx := strings.LastIndex(s, ")")
	if closeIdx < 0 || closeIdx+2 > len(s) {
		return nil, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	return strings.Fields(s[closeIdx+2:]), nil
}

// processStartTime returns the start time of pid in clock ticks since boot
// (field 22 of /proc/<pid>/stat).
func processStartTime(pid int) (int64, error) {
	rest, err := statFields(pid)
	if err != nil {
		return 0, err
	}
	const starttimeIdx = 19
	if len(rest) <= starttimeIdx {
		return 0, fmt.Errorf("malformed /proc/%d/stat: too few fields", pid)
	}
	starttime, err := strconv.ParseInt(rest[starttimeIdx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse starttime for pid %d: %w", pid, err)
	}
	return starttime, nil
}

// isZombie reports whether pid has exited but not been reaped.
func isZombie(pid int) bool {
	rest, err := statFields(pid)
	if err != nil || len(rest) == 0 {
		return false
	}
	return rest[0] == "Z"
}
