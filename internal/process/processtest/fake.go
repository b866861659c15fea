// Package processtest provides an in-memory process.Service for tests.
package processtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ensemble/internal/process"
)

// Call is one recorded Service invocation.
type Call struct {
	Method  string
	Handle  process.Handle
	Text    string
	Submit  bool
	Command string
	Env     map[string]string
	At      time.Time
}

// Service records every call and serves canned output. Errors maps a method
// name to the error that method returns.
type Service struct {
	mu      sync.Mutex
	now     func() time.Time
	calls   []Call
	next    int
	handles map[process.Handle]bool
	output  map[process.Handle]string
	errors  map[string]error
}

// New returns a fake whose call timestamps come from now.
func New(now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		now:     now,
		handles: make(map[process.Handle]bool),
		output:  make(map[process.Handle]string),
		errors:  make(map[string]error),
	}
}

// SetNow replaces the time source used to stamp calls.
func (s *Service) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Service) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errors, method)
		return
	}
	s.errors[method] = err
}

func (s *Service) SetOutput(handle process.Handle, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output[handle] = output
}

func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded calls of one method.
func (s *Service) CallsTo(method string) []Call {
	var matched []Call
	for _, call := range s.Calls() {
		if call.Method == method {
			matched = append(matched, call)
		}
	}
	return matched
}

func (s *Service) Alive(handle process.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[handle]
}

func (s *Service) record(call Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call.At = s.now()
	s.calls = append(s.calls, call)
	return s.errors[call.Method]
}

func (s *Service) allocate(call Call) (process.Handle, error) {
	if err := s.record(call); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	handle := process.Handle(fmt.Sprintf("fake-%d", s.next))
	s.handles[handle] = true
	return handle, nil
}

func (s *Service) known(handle process.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles[handle] {
		return process.ErrHandleNotFound
	}
	return nil
}

func (s *Service) CreateProcess(_ context.Context, cfg process.Config) (process.Handle, error) {
	return s.allocate(Call{Method: "CreateProcess", Command: cfg.Command, Text: cfg.WorkingDir, Env: cfg.Env})
}

func (s *Service) CreatePersistentProcess(ctx context.Context, cwd string) (process.Handle, error) {
	return s.allocate(Call{Method: "CreatePersistentProcess", Text: cwd, Env: process.EnvFromContext(ctx)})
}

func (s *Service) RunCommand(_ context.Context, command string, target process.Handle) error {
	if err := s.record(Call{Method: "RunCommand", Handle: target, Command: command}); err != nil {
		return err
	}
	return s.known(target)
}

func (s *Service) Focus(_ context.Context, target process.Handle) error {
	if err := s.record(Call{Method: "Focus", Handle: target}); err != nil {
		return err
	}
	return s.known(target)
}

func (s *Service) GetHandle(id string) (process.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := process.Handle(id)
	return handle, s.handles[handle]
}

func (s *Service) SendInput(_ context.Context, target process.Handle, text string, submit bool) error {
	if err := s.record(Call{Method: "SendInput", Handle: target, Text: text, Submit: submit}); err != nil {
		return err
	}
	return s.known(target)
}

func (s *Service) ReadOutput(_ context.Context, target process.Handle) (string, error) {
	if err := s.record(Call{Method: "ReadOutput", Handle: target}); err != nil {
		return "", err
	}
	if err := s.known(target); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output[target], nil
}

func (s *Service) Kill(_ context.Context, target process.Handle) error {
	if err := s.record(Call{Method: "Kill", Handle: target}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles[target] {
		return process.ErrHandleNotFound
	}
	delete(s.handles, target)
	return nil
}

var _ process.Service = (*Service)(nil)
