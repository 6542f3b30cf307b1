//go:build darwin

package driver

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func kinfo(pid int) (*unix.KinfoProc, error) {
	kp, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return nil, fmt.Errorf("sysctl kern.proc.pid.%d: %w", pid, err)
	}
	return kp, nil
}

// processName returns the executable name for pid via sysctl.
func processName(pid int) (string, error) {
	kp, err := kinfo(pid)
	if err != nil {
		return "", err
	}
	name := unix.ByteSliceToString(kp.Proc.P_comm[:])
	if name == "" {
		return "", fmt.Errorf("empty process name for pid %d", pid)
	}
	return name, nil
}

// processStartTime returns the start time of pid in Unix seconds.
func processStartTime(pid int) (int64, error) {
	kp, err := kinfo(pid)
	if err != nil {
		return 0, err
	}
	return kp.Proc.P_starttime.Sec, nil
}

// isZombie reports whether pid has exited but not been reaped.
func isZombie(pid int) bool {
	kp, err := kinfo(pid)
	if err != nil {
		return false
	}
	return kp.Proc.P_stat == 5 // SZOMB
}
