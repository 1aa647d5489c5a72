//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess opens a handle on Windows and fails when the pid is gone.
	_, err := os.FindProcess(pid)
	return err == nil
}

func setSysProcAttr(_ *exec.Cmd) {}

// Windows has no SIGTERM; termination is always forceful.
func signalTerm(pid int) { signalKill(pid) }

func signalKill(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}
