// Package terminal hosts interactive processes on pseudo terminals and serves
// them to the orchestrator as a process.Service.
package terminal

import "os/exec"

type Pty interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Resize(cols, rows uint16) error
}

// LaunchSpec describes the program started on a new pseudo terminal. Env
// entries are KEY=VALUE pairs appended to the host environment.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Cols    uint16
	Rows    uint16
}

type PtyFactory interface {
	Start(spec LaunchSpec) (Pty, *exec.Cmd, error)
}

type defaultPtyFactory struct{}

func (defaultPtyFactory) Start(spec LaunchSpec) (Pty, *exec.Cmd, error) {
	return startPty(spec)
}

func DefaultPtyFactory() PtyFactory {
	return defaultPtyFactory{}
}
