//go:build windows

package terminal

import "os/exec"

func startPty(LaunchSpec) (Pty, *exec.Cmd, error) {
	return nil, nil, ErrPtyUnsupported
}
