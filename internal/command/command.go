// Package command forwards named administrative commands to a running
// worker. Commands are opaque: a name from a fixed namespace plus a byte
// payload in, a byte payload out. Nothing here interprets either.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/benaskins/icnswitch/internal/audit"
	"github.com/benaskins/icnswitch/internal/template"
)

var (
	// ErrUnknown is returned for a command name outside the allowed set.
	ErrUnknown = errors.New("unknown command")

	// ErrNotRunning is returned when the target worker is not running.
	ErrNotRunning = errors.New("worker not running")

	// ErrNoControl is returned for a service without a control command.
	ErrNoControl = errors.New("service has no control command")
)

// ForwarderNames is the forwarder's administrative namespace.
var ForwarderNames = []string{
	"stats",
	"set/loglevel",
	"set/debug",
	"unset/debug",
	"link/connect",
	"list/routes",
	"list/connections",
	"list/interfaces",
	"list/listeners",
	"add/listener",
	"remove/listener",
	"add/connection",
	"remove/connection",
	"add/route",
	"remove/route",
	"fib/lookup",
	"pit/lookup",
	"cs/lookup",
	"cs/clear",
	"cache/serve",
	"cache/store",
	"quit",
}

// DefaultTimeout bounds a single command.
const DefaultTimeout = 10 * time.Second

// MaxResponse caps the response payload kept from a command.
const MaxResponse = 1 << 20

// Request is one named command with its payload.
type Request struct {
	Name    string
	Payload []byte
	Actor   string
}

// Response is the worker's answer.
type Response struct {
	Name     string
	Payload  []byte
	Duration time.Duration
}

// Runner delivers a request to the worker.
type Runner interface {
	Run(ctx context.Context, req Request) ([]byte, error)
}

// Target is the worker a command is addressed to.
type Target interface {
	Name() string
	IsRunning() bool
}

// Forwarder checks requests against the allowed names and the target's
// state before handing them to its runner.
type Forwarder struct {
	target  Target
	names   []string
	runner  Runner
	timeout time.Duration
	audit   *audit.Logger
	logger  *slog.Logger
}

// Options configure a Forwarder.
type Options struct {
	Names   []string // allowed command names
	Runner  Runner
	Timeout time.Duration
	Audit   *audit.Logger
	Logger  *slog.Logger
}

// NewForwarder creates a forwarder for target.
func NewForwarder(target Target, opts Options) *Forwarder {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	names := slices.Clone(opts.Names)
	slices.Sort(names)
	return &Forwarder{
		target:  target,
		names:   names,
		runner:  opts.Runner,
		timeout: opts.Timeout,
		audit:   opts.Audit,
		logger:  logger.With("component", "command", "service", target.Name()),
	}
}

// Names returns the allowed command names in sorted order.
func (f *Forwarder) Names() []string {
	return slices.Clone(f.names)
}

// Allowed reports whether name is in the allowed set.
func (f *Forwarder) Allowed(name string) bool {
	_, ok := slices.BinarySearch(f.names, name)
	return ok
}

// Send delivers req to the worker and returns its response.
func (f *Forwarder) Send(ctx context.Context, req Request) (Response, error) {
	service := f.target.Name()
	if f.runner == nil {
		return Response{}, fmt.Errorf("%s: %w", service, ErrNoControl)
	}
	if !f.Allowed(req.Name) {
		return Response{}, fmt.Errorf("%s: %w %q", service, ErrUnknown, req.Name)
	}
	if !f.target.IsRunning() {
		return Response{}, fmt.Errorf("%s: %w", service, ErrNotRunning)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	started := time.Now()
	out, err := f.runner.Run(ctx, req)
	resp := Response{Name: req.Name, Payload: out, Duration: time.Since(started)}

	entry := audit.Entry{
		Action:  audit.ActionCommand,
		Service: service,
		Command: req.Name,
		Actor:   req.Actor,
	}
	if err != nil {
		entry.Error = err.Error()
		f.logger.Warn("command failed", "command", req.Name, "error", err)
	} else {
		f.logger.Debug("command sent", "command", req.Name, "bytes", len(out), "duration", resp.Duration)
	}
	f.audit.Log(entry)

	if err != nil {
		return resp, fmt.Errorf("%s: command %s: %w", service, req.Name, err)
	}
	return resp, nil
}

// Exec runs a shell command per request. The command line is a template
// that may reference %%command%% and any key of Config. The payload is
// written to stdin and stdout is the response.
type Exec struct {
	Command    string
	Config     func() template.Config
	Env        []string
	WorkingDir string
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, req Request) ([]byte, error) {
	cfg := template.Config{}
	if e.Config != nil {
		cfg = e.Config().Clone()
	}
	cfg["command"] = req.Name

	line, err := template.Render(e.Command, cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Dir = e.WorkingDir
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Env = append(cmd.Env, "ICNSWITCH_COMMAND="+req.Name)
	cmd.Stdin = bytes.NewReader(req.Payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedBuffer{buf: &stdout, max: MaxResponse}
	cmd.Stderr = &limitedBuffer{buf: &stderr, max: 4096}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// limitedBuffer keeps the first max bytes and discards the rest without
// failing the writer.
type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
