package terminal

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"ensemble/internal/process"
)

type fakePty struct {
	reader *io.PipeReader
	writer *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

func newFakePty() *fakePty {
	reader, writer := io.Pipe()
	return &fakePty{reader: reader, writer: writer}
}

func (p *fakePty) Read(data []byte) (int, error) {
	return p.reader.Read(data)
}

func (p *fakePty) Write(data []byte) (int, error) {
	return p.writer.Write(data)
}

func (p *fakePty) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.reader.Close()
	return p.writer.Close()
}

func (p *fakePty) Resize(cols, rows uint16) error {
	return nil
}

func (p *fakePty) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	ptys    []*fakePty
	specs   []LaunchSpec
	err     error
	onStart func()
}

func (f *fakeFactory) Start(spec LaunchSpec) (Pty, *exec.Cmd, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, nil, f.err
	}
	pty := newFakePty()
	f.ptys = append(f.ptys, pty)
	f.specs = append(f.specs, spec)
	onStart := f.onStart
	f.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	return pty, nil, nil
}

func (f *fakeFactory) lastSpec(t *testing.T) LaunchSpec {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.specs) == 0 {
		t.Fatalf("expected a started pty")
	}
	return f.specs[len(f.specs)-1]
}

func newTestHost(factory *fakeFactory) *Host {
	return NewHost(HostOptions{
		Shell:      "/bin/sh",
		PtyFactory: factory,
	})
}

func waitForOutput(t *testing.T, host *Host, handle process.Handle, want string) string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	var output string
	for time.Now().Before(deadline) {
		var err error
		output, err = host.ReadOutput(context.Background(), handle)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if strings.Contains(output, want) {
			return output
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, last output %q", want, output)
	return ""
}

func TestHostCreatePersistentProcessUsesShellDirAndEnv(t *testing.T) {
	factory := &fakeFactory{}
	host := newTestHost(factory)
	defer host.Close(context.Background())

	ctx := process.WithEnv(context.Background(), map[string]string{
		"CLAUDE_ROLE":        "reviewer",
		"CLAUDE_INSTANCE_ID": "reviewer_1_1",
	})
	handle, err := host.CreatePersistentProcess(ctx, "/work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if handle == "" {
		t.Fatalf("expected handle")
	}

	spec := factory.lastSpec(t)
	if spec.Command != "/bin/sh" || len(spec.Args) != 0 {
		t.Fatalf("expected shell launch, got %q %v", spec.Command, spec.Args)
	}
	if spec.Dir != "/work" {
		t.Fatalf("expected dir /work, got %q", spec.Dir)
	}
	want := []string{"CLAUDE_INSTANCE_ID=reviewer_1_1", "CLAUDE_ROLE=reviewer"}
	if strings.Join(spec.Env, ",") != strings.Join(want, ",") {
		t.Fatalf("expected env %v, got %v", want, spec.Env)
	}
	if got, ok := host.GetHandle(string(handle)); !ok || got != handle {
		t.Fatalf("expected handle lookup to succeed, got %q %v", got, ok)
	}
}

func TestHostCreateProcessSplitsCommand(t *testing.T) {
	factory := &fakeFactory{}
	host := newTestHost(factory)
	defer host.Close(context.Background())

	_, err := host.CreateProcess(context.Background(), process.Config{
		Command: "claude --model 'opus plan'",
		Env:     map[string]string{"TERM": "xterm-256color"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	spec := factory.lastSpec(t)
	if spec.Command != "claude" {
		t.Fatalf("expected claude, got %q", spec.Command)
	}
	if len(spec.Args) != 2 || spec.Args[1] != "opus plan" {
		t.Fatalf("unexpected args %v", spec.Args)
	}
	if len(spec.Env) != 1 || spec.Env[0] != "TERM=xterm-256color" {
		t.Fatalf("unexpected env %v", spec.Env)
	}
	if spec.Cols != DefaultCols || spec.Rows != DefaultRows {
		t.Fatalf("expected default size, got %dx%d", spec.Cols, spec.Rows)
	}
}

func TestHostSendInputAndReadOutput(t *testing.T) {
	factory := &fakeFactory{}
	host := newTestHost(factory)
	defer host.Close(context.Background())

	handle, err := host.CreatePersistentProcess(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := host.SendInput(context.Background(), handle, "\x1b[31mhello\x1b[0m\n", false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := host.RunCommand(context.Background(), "claude", handle); err != nil {
		t.Fatalf("run: %v", err)
	}

	output := waitForOutput(t, host, handle, "claude")
	if output != "hello\nclaude" {
		t.Fatalf("expected stripped output, got %q", output)
	}
}

func TestHostUnknownHandle(t *testing.T) {
	host := newTestHost(&fakeFactory{})
	ctx := context.Background()

	checks := map[string]error{
		"send":  host.SendInput(ctx, "missing", "x", true),
		"run":   host.RunCommand(ctx, "ls", "missing"),
		"focus": host.Focus(ctx, "missing"),
		"kill":  host.Kill(ctx, "missing"),
	}
	if _, err := host.ReadOutput(ctx, "missing"); !errors.Is(err, process.ErrHandleNotFound) {
		t.Fatalf("read: expected ErrHandleNotFound, got %v", err)
	}
	for name, err := range checks {
		if !errors.Is(err, process.ErrHandleNotFound) {
			t.Fatalf("%s: expected ErrHandleNotFound, got %v", name, err)
		}
	}
	if _, ok := host.GetHandle("missing"); ok {
		t.Fatalf("expected unknown handle lookup to fail")
	}
}

func TestHostFocus(t *testing.T) {
	host := newTestHost(&fakeFactory{})
	defer host.Close(context.Background())

	first, _ := host.CreatePersistentProcess(context.Background(), "")
	second, _ := host.CreatePersistentProcess(context.Background(), "")
	if err := host.Focus(context.Background(), second); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if host.Focused() != second {
		t.Fatalf("expected %s focused, got %s", second, host.Focused())
	}
	if err := host.Kill(context.Background(), second); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if host.Focused() != "" {
		t.Fatalf("expected focus cleared, got %s", host.Focused())
	}
	if first == second {
		t.Fatalf("expected unique handles")
	}
}

func TestHostKillClosesSession(t *testing.T) {
	factory := &fakeFactory{}
	host := newTestHost(factory)

	handle, err := host.CreatePersistentProcess(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := host.Kill(context.Background(), handle); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !factory.ptys[0].isClosed() {
		t.Fatalf("expected pty closed")
	}
	if err := host.SendInput(context.Background(), handle, "x", false); !errors.Is(err, process.ErrHandleNotFound) {
		t.Fatalf("expected ErrHandleNotFound after kill, got %v", err)
	}
	if len(host.Sessions()) != 0 {
		t.Fatalf("expected no sessions, got %v", host.Sessions())
	}
}

func TestHostSubscribeStreamsOutput(t *testing.T) {
	host := newTestHost(&fakeFactory{})
	defer host.Close(context.Background())

	handle, _ := host.CreatePersistentProcess(context.Background(), "")
	ch, cancel, err := host.Subscribe(handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := host.SendInput(context.Background(), handle, "ping", false); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case chunk := <-ch:
		if string(chunk) != "ping" {
			t.Fatalf("expected ping, got %q", chunk)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for output")
	}

	if _, _, err := host.Subscribe("missing"); !errors.Is(err, process.ErrHandleNotFound) {
		t.Fatalf("expected ErrHandleNotFound, got %v", err)
	}
}

func TestHostUnsupportedPtyIsUnavailable(t *testing.T) {
	host := newTestHost(&fakeFactory{err: ErrPtyUnsupported})
	_, err := host.CreatePersistentProcess(context.Background(), "")
	if !errors.Is(err, process.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestHostStartFailure(t *testing.T) {
	host := newTestHost(&fakeFactory{err: errors.New("exec: not found")})
	_, err := host.CreatePersistentProcess(context.Background(), "")
	if err == nil || errors.Is(err, process.ErrServiceUnavailable) {
		t.Fatalf("expected plain start error, got %v", err)
	}
}

func TestHostCloseRefusesNewProcesses(t *testing.T) {
	factory := &fakeFactory{}
	host := newTestHost(factory)
	if _, err := host.CreatePersistentProcess(context.Background(), ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := host.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !factory.ptys[0].isClosed() {
		t.Fatalf("expected pty closed on host close")
	}
	if _, err := host.CreatePersistentProcess(context.Background(), ""); !errors.Is(err, process.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestHostCloseDuringStartReleasesSession(t *testing.T) {
	factory := &fakeFactory{}
	host := newTestHost(factory)
	factory.onStart = func() {
		if err := host.Close(context.Background()); err != nil {
			t.Errorf("close: %v", err)
		}
	}

	_, err := host.CreatePersistentProcess(context.Background(), "")
	if !errors.Is(err, process.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if sessions := host.Sessions(); len(sessions) != 0 {
		t.Fatalf("expected no tracked sessions, got %d", len(sessions))
	}
	if !factory.ptys[0].isClosed() {
		t.Fatalf("expected pty of the late session closed")
	}
}

func TestHostCanceledContext(t *testing.T) {
	host := newTestHost(&fakeFactory{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := host.CreatePersistentProcess(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
