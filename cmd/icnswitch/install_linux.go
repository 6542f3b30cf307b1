//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

const systemdUnitName = "icnswitch.service"

// systemdUnit is a user unit. Type=notify pairs with the READY=1 the daemon
// sends once its socket is listening.
func systemdUnit(binary string) string {
	return fmt.Sprintf(`[Unit]
Description=icnswitch worker controller

[Service]
Type=notify
ExecStart=%s daemon --keep-workers --log-journal
KillMode=process
Restart=on-failure

[Install]
WantedBy=default.target
`, binary)
}

func userUnitDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "systemd", "user"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home dir: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %v: %w: %s", args, err, out)
	}
	return nil
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install icnswitch as a systemd user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		binary, err := daemonBinary()
		if err != nil {
			return err
		}
		dir, err := userUnitDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating unit dir: %w", err)
		}
		unitPath := filepath.Join(dir, systemdUnitName)
		if err := os.WriteFile(unitPath, []byte(systemdUnit(binary)), 0644); err != nil {
			return fmt.Errorf("writing unit: %w", err)
		}
		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		if err := systemctl("enable", "--now", systemdUnitName); err != nil {
			return err
		}

		fmt.Printf("Installed systemd unit: %s\n", unitPath)
		fmt.Printf("Binary: %s\n", binary)
		fmt.Println("Logs: journalctl --user -u " + systemdUnitName)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the icnswitch systemd user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := userUnitDir()
		if err != nil {
			return err
		}
		// may not be enabled
		_ = systemctl("disable", "--now", systemdUnitName)

		unitPath := filepath.Join(dir, systemdUnitName)
		if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing unit: %w", err)
		}
		_ = systemctl("daemon-reload")
		fmt.Println("Uninstalled icnswitch systemd unit.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
