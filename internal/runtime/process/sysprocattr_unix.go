//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureCmdSysProcAttr makes the child the leader of a new process group
// whose id equals its pid.
func configureCmdSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
}
