// Package worker holds the in-process workers a func-type service can run.
// Each reads the config file its controller rendered and runs until its
// context is cancelled.
package worker

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/benaskins/icnswitch/internal/driver"
)

// Builtins maps entry names to worker functions.
func Builtins() map[string]driver.WorkerFunc {
	return map[string]driver.WorkerFunc{
		"http": HTTPServer,
	}
}

// Names returns the built-in entry names in sorted order.
func Names() []string {
	var names []string
	for name := range Builtins() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadKV reads a key=value config file. Blank lines and lines starting
// with '#' are skipped; keys and values are trimmed.
func ReadKV(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key=value", path, n)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
