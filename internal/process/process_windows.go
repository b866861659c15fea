//go:build windows

package process

import (
	"errors"
	"os"
)

func groupOf(int) int {
	return 0
}

// signal kills the process outright; Windows has no polite termination for
// console processes.
func (e Entry) signal(bool) error {
	proc, err := os.FindProcess(e.PID)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	return err == nil && proc != nil
}

func killedBySignal(error) bool {
	return false
}
