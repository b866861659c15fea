//go:build linux

package terminal

import (
	"os/exec"
	"syscall"
)

// configureProcAttr gives the child its own process group and has the kernel
// send it SIGTERM if the host dies first.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
