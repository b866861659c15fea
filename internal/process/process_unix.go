//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

func groupOf(pid int) int {
	pgid, err := syscall.Getpgid(pid)
	if err != nil || pgid != pid {
		return 0
	}
	return pgid
}

// signal targets the whole group when the process leads one. A process that
// is already gone is not an error.
func (e Entry) signal(force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	target := e.PID
	if e.PGID > 0 {
		target = -e.PGID
	}
	if err := syscall.Kill(target, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func killedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}
