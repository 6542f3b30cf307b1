//go:build nocontainer

package driver

import (
	"context"
	"errors"
	"time"
)

var errNoContainers = errors.New("container support excluded (built with nocontainer tag)")

// ContainerConfig holds configuration for a containerised worker.
type ContainerConfig struct {
	Name        string
	Image       string
	Env         []string
	Cmd         []string
	NetworkMode string
	ConfigPath  string
	Volumes     map[string]string
	BufSize     int
	KillGrace   time.Duration
}

// ContainerConfigPath returns where the rendered config would appear inside
// the container.
func (c ContainerConfig) ContainerConfigPath() string { return "" }

// ContainerName is the Docker name used for a service's worker.
func ContainerName(service string) string { return "icnswitch-" + service }

// ContainerDriver is a stub when container support is excluded.
type ContainerDriver struct{}

// NewContainer returns an error when built with the nocontainer tag.
func NewContainer(cfg ContainerConfig) (*ContainerDriver, error) {
	return nil, errNoContainers
}

func (d *ContainerDriver) Start(ctx context.Context) error                 { return errNoContainers }
func (d *ContainerDriver) Stop(ctx context.Context, _ time.Duration) error { return nil }
func (d *ContainerDriver) Info() ProcessInfo                               { return ProcessInfo{} }
func (d *ContainerDriver) Wait() (int, error)                              { return -1, errNoContainers }
func (d *ContainerDriver) LogLines(n int) []string                         { return nil }
func (d *ContainerDriver) ContainerID() string                             { return "" }
