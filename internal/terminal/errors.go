package terminal

import "errors"

var (
	ErrSessionClosed  = errors.New("terminal session closed")
	ErrPtyUnsupported = errors.New("pty unsupported on this platform")
)
