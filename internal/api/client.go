package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/daemon"
)

// Error is a non-2xx answer from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// IsConflict reports whether err is the daemon refusing a start or stop
// because the service is already in the requested state.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Client talks to a daemon over its Unix socket.
type Client struct {
	http   *http.Client
	stream *http.Client
	base   string
}

// NewClient returns a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		http:   &http.Client{Timeout: 30 * time.Second, Transport: transport},
		stream: &http.Client{Transport: transport},
		base:   "http://icnswitch",
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is icnswitch daemon running?)", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body struct {
		Error string `json:"error"`
	}
	msg := string(bytes.TrimSpace(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) postJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodPost, path, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func servicePath(name string, rest ...string) string {
	p := "/v1/services/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.getJSON(ctx, "/v1/health", &out)
}

// Services lists every service.
func (c *Client) Services(ctx context.Context) ([]daemon.ServiceState, error) {
	var states []daemon.ServiceState
	err := c.getJSON(ctx, "/v1/services", &states)
	return states, err
}

// Service returns one service.
func (c *Client) Service(ctx context.Context, name string) (daemon.ServiceState, error) {
	var st daemon.ServiceState
	err := c.getJSON(ctx, servicePath(name), &st)
	return st, err
}

// Start starts a service and returns its new state.
func (c *Client) Start(ctx context.Context, name string) (daemon.ServiceState, error) {
	var st daemon.ServiceState
	err := c.postJSON(ctx, servicePath(name, "start"), &st)
	return st, err
}

// Stop stops a service and returns its new state.
func (c *Client) Stop(ctx context.Context, name string) (daemon.ServiceState, error) {
	var st daemon.ServiceState
	err := c.postJSON(ctx, servicePath(name, "stop"), &st)
	return st, err
}

// Restart restarts a service and returns its new state.
func (c *Client) Restart(ctx context.Context, name string) (daemon.ServiceState, error) {
	var st daemon.ServiceState
	err := c.postJSON(ctx, servicePath(name, "restart"), &st)
	return st, err
}

// Reload asks the daemon to re-read its specs.
func (c *Client) Reload(ctx context.Context) (daemon.ReloadResult, error) {
	var res daemon.ReloadResult
	err := c.postJSON(ctx, "/v1/reload", &res)
	return res, err
}

// Logs returns the last n output lines of a service's worker.
func (c *Client) Logs(ctx context.Context, name string, n int) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	err := c.getJSON(ctx, servicePath(name, "logs")+"?n="+strconv.Itoa(n), &out)
	return out.Lines, err
}

// Render returns the config the next start of a service would write.
func (c *Client) Render(ctx context.Context, name string) (RenderResponse, error) {
	var out RenderResponse
	err := c.getJSON(ctx, servicePath(name, "render"), &out)
	return out, err
}

// Command sends an admin command to a running service.
func (c *Client) Command(ctx context.Context, name, cmd string, payload []byte) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, servicePath(name, "command", cmd), bytes.NewReader(payload), "application/octet-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Prefs lists a service's preferences with secrets masked.
func (c *Client) Prefs(ctx context.Context, name string) (map[string]string, error) {
	var out map[string]string
	err := c.getJSON(ctx, servicePath(name, "prefs"), &out)
	return out, err
}

// Pref returns one preference.
func (c *Client) Pref(ctx context.Context, name, key string) (string, error) {
	var out PrefValue
	err := c.getJSON(ctx, servicePath(name, "prefs", url.PathEscape(key)), &out)
	return out.Value, err
}

// SetPref stores one preference.
func (c *Client) SetPref(ctx context.Context, name, key, value string) error {
	data, err := json.Marshal(PrefValue{Value: value})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, servicePath(name, "prefs", url.PathEscape(key)), bytes.NewReader(data), "application/json")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// DeletePref removes one preference.
func (c *Client) DeletePref(ctx context.Context, name, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, servicePath(name, "prefs", url.PathEscape(key)), nil, "")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Events streams state changes to fn until ctx is done or the connection
// drops.
func (c *Client) Events(ctx context.Context, fn func(controller.StateChanged)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/events", nil)
	if err != nil {
		return err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is icnswitch daemon running?)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev controller.StateChanged
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
