// Package logbuf keeps the most recent output lines of a worker.
package logbuf

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Ring holds the last N lines written to it. It is an io.Writer so a worker's
// stdout and stderr can be attached directly. Carriage returns before a line
// break are dropped.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	size    int
	pos     int
	full    bool
	partial bytes.Buffer
}

// New creates a ring buffer that stores the last n lines.
func New(n int) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{
		lines: make([]string, n),
		size:  n,
	}
}

// Write implements io.Writer.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)
	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			r.partial.Reset()
			r.partial.WriteString(line)
			break
		}
		line = strings.TrimSuffix(line, "\n")
		r.add(strings.TrimSuffix(line, "\r"))
	}
	return len(p), nil
}

func (r *Ring) add(line string) {
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Flush stores any buffered partial line. Drivers call it when the worker
// exits so a final line without a newline is not lost.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial.Len() > 0 {
		r.add(strings.TrimSuffix(r.partial.String(), "\r"))
		r.partial.Reset()
	}
}

// Reset discards all stored lines.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = make([]string, r.size)
	r.pos = 0
	r.full = false
	r.partial.Reset()
}

// Len returns the number of stored lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.size
	}
	return r.pos
}

// Lines returns all stored lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]string, r.pos)
		copy(result, r.lines[:r.pos])
		return result
	}

	result := make([]string, r.size)
	copy(result, r.lines[r.pos:])
	copy(result[r.size-r.pos:], r.lines[:r.pos])
	return result
}

// Last returns the last n lines. If fewer lines exist, returns all of them.
func (r *Ring) Last(n int) []string {
	all := r.Lines()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Reader returns an io.Reader over the current contents.
func (r *Ring) Reader() io.Reader {
	return strings.NewReader(strings.Join(r.Lines(), "\n"))
}
