package daemon

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/driver"
	"github.com/benaskins/icnswitch/internal/spec"
	"github.com/benaskins/icnswitch/internal/template"
)

// ConfigEnv names the variable carrying the rendered config path.
const ConfigEnv = "ICNSWITCH_CONFIG"

// driverFactory returns the controller's driver factory for s. The command
// line and arguments are templates over the run's resolved config, so
// %%config_path%% and every preference key can appear in them.
func (d *Daemon) driverFactory(s *spec.ServiceSpec) controller.DriverFactory {
	name := s.Service.Name
	switch s.Service.Type {
	case spec.TypeNative:
		return func(run controller.Run) (driver.Driver, error) {
			command, err := template.Render(s.Command(), run.Config)
			if err != nil {
				return nil, fmt.Errorf("rendering command: %w", err)
			}
			args, err := renderArgs(s.Args, run.Config)
			if err != nil {
				return nil, err
			}
			if args != nil {
				fields := strings.Fields(command)
				if len(fields) == 0 {
					return nil, fmt.Errorf("empty command")
				}
				command = fields[0]
				args = append(fields[1:], args...)
			}
			return driver.NewNative(driver.NativeConfig{
				Command:    command,
				Args:       args,
				Env:        append(os.Environ(), workerEnv(s, run.Config, run.ConfigPath)...),
				WorkingDir: s.Service.WorkingDir,
			}), nil
		}

	case spec.TypeContainer:
		return func(run controller.Run) (driver.Driver, error) {
			cfg := driver.ContainerConfig{
				Name:        driver.ContainerName(name),
				Image:       s.Service.Image,
				NetworkMode: s.Service.NetworkMode,
				ConfigPath:  run.ConfigPath,
				Volumes:     s.Volumes,
			}
			// Inside the container the config lives at the mount point.
			inner := run.Config.Clone()
			if p := cfg.ContainerConfigPath(); p != "" {
				inner["config_path"] = p
			}
			args, err := renderArgs(s.Args, inner)
			if err != nil {
				return nil, err
			}
			cfg.Cmd = args
			cfg.Env = workerEnv(s, inner, inner["config_path"])
			return driver.NewContainer(cfg)
		}

	case spec.TypeFunc:
		return func(run controller.Run) (driver.Driver, error) {
			fn, ok := d.workers[s.Entry()]
			if !ok {
				return nil, fmt.Errorf("no in-process worker named %q", s.Entry())
			}
			return driver.NewFunc(driver.FuncConfig{
				Name:       name,
				ConfigPath: run.ConfigPath,
				Run:        fn,
			}), nil
		}
	}

	return func(controller.Run) (driver.Driver, error) {
		return nil, fmt.Errorf("unsupported service type %q", s.Service.Type)
	}
}

func renderArgs(args []string, cfg template.Config) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		r, err := template.Render(a, cfg)
		if err != nil {
			return nil, fmt.Errorf("rendering args: %w", err)
		}
		out[i] = r
	}
	return out, nil
}

// workerEnv builds the worker's environment: the spec's env, then
// ICNSWITCH_<KEY> for every resolved parameter, then ICNSWITCH_CONFIG.
// Secret parameters are passed only through the environment, never on the
// command line.
func workerEnv(s *spec.ServiceSpec, cfg template.Config, configPath string) []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var env []string
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	for _, k := range cfg.Keys() {
		if k == "config_path" {
			continue
		}
		env = append(env, envName(k)+"="+cfg[k])
	}
	if configPath != "" {
		env = append(env, ConfigEnv+"="+configPath)
	}
	return env
}

func envName(key string) string {
	var b strings.Builder
	b.WriteString("ICNSWITCH_")
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
