// Package api serves the daemon over HTTP, normally on a Unix socket, and
// provides the client the CLI and switchboard use to reach it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/benaskins/icnswitch/internal/command"
	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/daemon"
)

// DefaultLogLines is returned by the logs endpoint without ?n.
const DefaultLogLines = 100

// Server serves the icnswitch REST API.
type Server struct {
	daemon   *daemon.Daemon
	listener net.Listener
	server   *http.Server
	limiter  *rate.Limiter
	logger   *slog.Logger
	ctx      context.Context
}

// Options configure a Server.
type Options struct {
	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// NewServer creates an API server backed by d. Lifecycle operations run
// under ctx rather than the request's context.
func NewServer(ctx context.Context, d *daemon.Daemon, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		daemon: d,
		logger: logger.With("component", "api"),
		ctx:    ctx,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/services", s.listServices)
	mux.HandleFunc("GET /v1/services/{name}", s.getService)
	mux.HandleFunc("POST /v1/services/{name}/start", s.startService)
	mux.HandleFunc("POST /v1/services/{name}/stop", s.stopService)
	mux.HandleFunc("POST /v1/services/{name}/restart", s.restartService)
	mux.HandleFunc("GET /v1/services/{name}/logs", s.serviceLogs)
	mux.HandleFunc("GET /v1/services/{name}/render", s.render)
	mux.HandleFunc("POST /v1/services/{name}/command/{cmd...}", s.sendCommand)
	mux.HandleFunc("GET /v1/services/{name}/prefs", s.listPrefs)
	mux.HandleFunc("GET /v1/services/{name}/prefs/{key}", s.getPref)
	mux.HandleFunc("PUT /v1/services/{name}/prefs/{key}", s.setPref)
	mux.HandleFunc("DELETE /v1/services/{name}/prefs/{key}", s.deletePref)
	mux.HandleFunc("POST /v1/reload", s.reload)
	mux.HandleFunc("GET /v1/events", s.events)
	mux.HandleFunc("GET /v1/health", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{Handler: s.throttle(mux)}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix serves on a Unix socket, replacing a stale socket file.
func (s *Server) ListenUnix(path string) error {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP serves on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps daemon and controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, daemon.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrAlreadyRunning),
		errors.Is(err, controller.ErrNotRunning),
		errors.Is(err, command.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, controller.ErrConfig),
		errors.Is(err, daemon.ErrUnknownKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, command.ErrUnknown),
		errors.Is(err, command.ErrNoControl):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, daemon.ErrShutdown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.ServiceStates())
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	state, err := s.daemon.ServiceState(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) startService(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.daemon.StartService)
}

func (s *Server) stopService(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.daemon.StopService)
}

func (s *Server) restartService(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.daemon.RestartService)
}

// lifecycle runs op and answers with the service's resulting state.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	name := r.PathValue("name")
	if err := op(s.ctx, name); err != nil {
		s.fail(w, r, err)
		return
	}
	state, err := s.daemon.ServiceState(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) serviceLogs(w http.ResponseWriter, r *http.Request) {
	n := DefaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("n must be a positive integer"))
			return
		}
		n = parsed
	}
	lines, err := s.daemon.ServiceLogs(r.PathValue("name"), n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// RenderResponse is the body of the render endpoint.
type RenderResponse struct {
	Rendered string            `json:"rendered"`
	Config   map[string]string `json:"config"`
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	rendered, cfg, err := s.daemon.Render(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{Rendered: rendered, Config: cfg})
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, command.MaxResponse))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := r.Header.Get("X-Icnswitch-Actor")
	if actor == "" {
		actor = "api"
	}
	out, err := s.daemon.SendCommand(r.Context(), r.PathValue("name"), r.PathValue("cmd"), payload, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) listPrefs(w http.ResponseWriter, r *http.Request) {
	values, err := s.daemon.ListPrefs(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// PrefValue is the body of the single-preference endpoints.
type PrefValue struct {
	Value string `json:"value"`
}

func (s *Server) getPref(w http.ResponseWriter, r *http.Request) {
	v, err := s.daemon.GetPref(r.PathValue("name"), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PrefValue{Value: v})
}

func (s *Server) setPref(w http.ResponseWriter, r *http.Request) {
	var body PrefValue
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.daemon.SetPref(r.PathValue("name"), r.PathValue("key"), body.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deletePref(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.DeletePref(r.PathValue("name"), r.PathValue("key")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.Reload(s.ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// events streams state changes as newline-delimited JSON until the client
// goes away or the server shuts down.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch := make(chan controller.StateChanged, 64)
	unsubscribe := s.daemon.Events().SubscribeChan(ch)
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case ev := <-ch:
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
