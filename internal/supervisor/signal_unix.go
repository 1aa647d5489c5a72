//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// pidAlive returns true if a process with the given pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// setSysProcAttr puts the worker in its own process group so signals reach
// the whole browser tree.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTerm requests graceful termination of the worker's process group,
// falling back to the single process when the group is gone.
func signalTerm(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
}

// signalKill forcefully terminates the worker's process group.
func signalKill(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
