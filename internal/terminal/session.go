package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"ensemble/internal/process"
)

type SessionState uint32

const (
	sessionStateStarting SessionState = iota
	sessionStateRunning
	sessionStateClosing
	sessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case sessionStateStarting:
		return "starting"
	case sessionStateClosing:
		return "closing"
	case sessionStateClosed:
		return "closed"
	default:
		return "running"
	}
}

// Session is one pseudo terminal and the process attached to it.
type Session struct {
	Handle    process.Handle
	Name      string
	Command   string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	input  chan []byte
	output chan []byte
	done   chan struct{}

	pty      Pty
	cmd      *exec.Cmd
	bcast    *Broadcaster
	closing  sync.Once
	closeErr error
	state    uint32
}

type SessionInfo struct {
	Handle    process.Handle `json:"handle"`
	Name      string         `json:"name"`
	Command   string         `json:"command"`
	CreatedAt time.Time      `json:"created_at"`
	Status    string         `json:"status"`
}

func newSession(handle process.Handle, pty Pty, cmd *exec.Cmd, name, command string, createdAt time.Time, bufferLines int) *Session {
	// readLoop -> output, writeLoop -> PTY, broadcastLoop -> subscribers.
	// Close cancels context and closes input so loops drain and exit.
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		Handle:    handle,
		Name:      name,
		Command:   command,
		CreatedAt: createdAt,
		ctx:       ctx,
		cancel:    cancel,
		input:     make(chan []byte, 64),
		output:    make(chan []byte, 64),
		done:      make(chan struct{}),
		pty:       pty,
		cmd:       cmd,
		bcast:     NewBroadcaster(bufferLines),
		state:     uint32(sessionStateStarting),
	}

	go session.readLoop()
	go session.writeLoop()
	go session.broadcastLoop()
	session.setState(sessionStateRunning)

	return session
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Handle:    s.Handle,
		Name:      s.Name,
		Command:   s.Command,
		CreatedAt: s.CreatedAt,
		Status:    s.State().String(),
	}
}

func (s *Session) Subscribe() (<-chan []byte, func()) {
	return s.bcast.Subscribe()
}

func (s *Session) Write(data []byte) (err error) {
	if s == nil {
		return ErrSessionClosed
	}
	if len(data) == 0 {
		return nil
	}
	state := s.State()
	if state == sessionStateClosing || state == sessionStateClosed {
		return ErrSessionClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = ErrSessionClosed
		}
	}()

	select {
	case s.input <- data:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) Resize(cols, rows uint16) error {
	if s.pty == nil {
		return ErrSessionClosed
	}
	if err := s.pty.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Tail returns up to n of the most recent output lines.
func (s *Session) Tail(n int) []string {
	return s.bcast.Tail(n)
}

// Done is closed once the output stream has drained after the pty closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() error {
	s.closing.Do(func() {
		s.setState(sessionStateClosing)
		if s.cancel != nil {
			s.cancel()
		}
		close(s.input)
		s.closeErr = s.closeResources()
		s.setState(sessionStateClosed)
	})

	return s.closeErr
}

func (s *Session) State() SessionState {
	return SessionState(atomic.LoadUint32(&s.state))
}

func (s *Session) setState(state SessionState) {
	atomic.StoreUint32(&s.state, uint32(state))
}

// closeResources closes the pty. Stopping and reaping the process belongs
// to the process registry.
func (s *Session) closeResources() error {
	if s.pty == nil {
		return nil
	}
	if err := s.pty.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close pty: %w", err)
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.output)

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			_ = s.Close()
			return
		}
	}
}

func (s *Session) writeLoop() {
	for data := range s.input {
		if _, err := s.pty.Write(data); err != nil {
			_ = s.Close()
			return
		}
	}
}

func (s *Session) broadcastLoop() {
	defer close(s.done)
	for chunk := range s.output {
		s.bcast.Broadcast(chunk)
	}
	s.bcast.Close()
}
