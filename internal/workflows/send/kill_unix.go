//go:build !windows

package send

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup places the child in its own process group so the
// whole tree can be killed with one signal.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree force-kills the child's process group.
func killProcessTree(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
