//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// Terminate sends SIGTERM to the root process.
func (h *processHandle) Terminate() error {
	err := h.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// exitCode reports the exit status, or the signal number when the process
// was killed by a signal.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal())
	}
	return state.ExitCode()
}

// sigkill sends SIGKILL to pid. Negative values address a process group.
func sigkill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

// killGroup sends SIGKILL to the process group led by pid.
func killGroup(pid int) error {
	return sigkill(-pid)
}

// killTreeNative is a no-op where process groups and tree walking cover
// descendants.
func killTreeNative(pid int) {}
