//go:build windows

package send

import (
	"os/exec"
	"strconv"
)

func configureProcessGroup(_ *exec.Cmd) {}

// killProcessTree force-kills the child and every descendant. Console tools
// spawned through script wrappers leave grandchildren behind, so /T is
// required.
func killProcessTree(pid int) {
	_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
