//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
)

// Terminate kills the root process; Windows has no catchable SIGTERM.
func (h *processHandle) Terminate() error {
	err := h.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}

func sigkill(pid int) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// killGroup is unsupported on Windows; killTreeNative covers the tree.
func killGroup(pid int) error {
	return nil
}

// killTreeNative kills pid and its children with taskkill. /T terminates
// child processes, /F forces termination.
func killTreeNative(pid int) {
	_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
