//go:build !nocontainer

package driver

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/benaskins/icnswitch/internal/logbuf"
)

// ContainerConfigDir is where a worker's rendered config is mounted inside
// its container.
const ContainerConfigDir = "/etc/icnswitch"

// ContainerConfig holds configuration for a containerised worker.
type ContainerConfig struct {
	Name        string
	Image       string
	Env         []string
	Cmd         []string
	NetworkMode string // "host", "bridge", etc. Default: "host"
	// ConfigPath is the rendered config on the host. It is bind-mounted
	// read-only at ContainerConfigPath.
	ConfigPath string
	Volumes    map[string]string // extra host:container mounts
	BufSize    int
	KillGrace  time.Duration
}

// ContainerConfigPath returns where the rendered config appears inside the
// container.
func (c ContainerConfig) ContainerConfigPath() string {
	if c.ConfigPath == "" {
		return ""
	}
	return path.Join(ContainerConfigDir, filepath.Base(c.ConfigPath))
}

// ContainerDriver manages a Docker container lifecycle.
type ContainerDriver struct {
	cfg ContainerConfig

	mu          sync.Mutex
	closeOnce   sync.Once
	client      *dockerclient.Client
	containerID string
	started     bool
	state       State
	startedAt   time.Time
	exitCode    int
	exitErr     string
	buf         *logbuf.Ring
	done        chan struct{}
	logCancel   context.CancelFunc
}

// NewContainer creates a new Docker container driver.
func NewContainer(cfg ContainerConfig) (*ContainerDriver, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	if cfg.BufSize <= 0 {
		cfg.BufSize = DefaultBufSize
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = "host"
	}

	return &ContainerDriver{
		cfg:    cfg,
		client: cli,
		state:  StateStopped,
		buf:    logbuf.New(cfg.BufSize),
	}, nil
}

// ContainerName is the Docker name used for a service's worker.
func ContainerName(service string) string {
	return "icnswitch-" + service
}

func (d *ContainerDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.state = StateStarting

	name := ContainerName(d.cfg.Name)

	// A container left behind by a crashed daemon would hold the name.
	d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})

	config := &container.Config{
		Image: d.cfg.Image,
		Env:   d.cfg.Env,
		Cmd:   d.cfg.Cmd,
		Labels: map[string]string{
			"icnswitch.service": d.cfg.Name,
		},
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(d.cfg.NetworkMode),
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyDisabled,
		},
	}

	var binds []string
	if d.cfg.ConfigPath != "" {
		binds = append(binds, fmt.Sprintf("%s:%s:ro", d.cfg.ConfigPath, d.cfg.ContainerConfigPath()))
	}
	for host, cont := range d.cfg.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", host, cont))
	}
	hostConfig.Binds = binds

	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("creating container: %w", err)
	}
	d.containerID = resp.ID

	if err := d.client.ContainerStart(ctx, d.containerID, container.StartOptions{}); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		d.client.ContainerRemove(context.Background(), d.containerID, container.RemoveOptions{Force: true})
		return fmt.Errorf("starting container: %w", err)
	}

	d.started = true
	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	logCtx, cancel := context.WithCancel(context.Background())
	d.logCancel = cancel
	go d.streamLogs(logCtx)
	go d.waitForExit()

	return nil
}

func (d *ContainerDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	containerID := d.containerID
	done := d.done
	d.mu.Unlock()

	// Docker sends SIGTERM, waits timeout, then SIGKILL.
	timeoutSec := int(timeout.Seconds())
	d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSec})

	var err error
	select {
	case <-done:
	case <-time.After(timeout + d.cfg.KillGrace):
		d.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
		select {
		case <-done:
		case <-time.After(d.cfg.KillGrace):
			err = fmt.Errorf("container %s: %w", shortID(containerID), ErrStopTimeout)
		}
	}

	d.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{})
	d.closeClient()
	return err
}

func (d *ContainerDriver) closeClient() {
	d.closeOnce.Do(func() {
		if d.logCancel != nil {
			d.logCancel()
		}
		d.client.Close()
	})
}

func (d *ContainerDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	return ProcessInfo{
		ContainerID: d.containerID,
		State:       d.state,
		StartedAt:   d.startedAt,
		ExitCode:    d.exitCode,
		Error:       d.exitErr,
	}
}

func (d *ContainerDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return -1, ErrNotStarted
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

func (d *ContainerDriver) LogLines(n int) []string {
	return d.buf.Last(n)
}

// ContainerID returns the Docker container ID.
func (d *ContainerDriver) ContainerID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.containerID
}

func (d *ContainerDriver) streamLogs(ctx context.Context) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}

	reader, err := d.client.ContainerLogs(ctx, d.containerID, opts)
	if err != nil {
		return
	}
	defer reader.Close()

	// Strip Docker's stdout/stderr multiplexing headers.
	stdcopy.StdCopy(d.buf, d.buf, reader)
	d.buf.Flush()
}

func (d *ContainerDriver) waitForExit() {
	statusCh, errCh := d.client.ContainerWait(
		context.Background(),
		d.containerID,
		container.WaitConditionNotRunning,
	)

	var (
		code   int
		errMsg string
	)
	select {
	case err := <-errCh:
		code = -1
		if err != nil {
			errMsg = err.Error()
		}
	case status := <-statusCh:
		code = int(status.StatusCode)
		if status.Error != nil {
			errMsg = status.Error.Message
		}
	}

	d.mu.Lock()
	wasStopping := d.state == StateStopping
	if wasStopping {
		d.state = StateStopped
	} else {
		d.state = StateFailed
	}
	d.exitCode = code
	d.exitErr = errMsg
	close(d.done)
	d.mu.Unlock()

	// Stop closes the client itself.
	if !wasStopping {
		d.closeClient()
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
