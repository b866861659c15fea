package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ensemble/internal/logging"
	"ensemble/internal/process"
)

const (
	DefaultHistoryLines = 200
	DefaultCols         = 120
	DefaultRows         = 40

	submitSequence = "\r"
)

type HostOptions struct {
	// Shell backs persistent processes and is the fallback for configs
	// without a command. Defaults to DefaultShell().
	Shell        string
	PtyFactory   PtyFactory
	BufferLines  int
	HistoryLines int
	Cols         uint16
	Rows         uint16
	Registry     *process.Registry
	Logger       *logging.Logger
	Now          func() time.Time
}

// Host owns pseudo terminal sessions and implements process.Service.
type Host struct {
	opts HostOptions

	mu       sync.RWMutex
	sessions map[process.Handle]*Session
	focused  process.Handle
	closed   bool
	nextID   atomic.Uint64
}

var _ process.Service = (*Host)(nil)

func NewHost(opts HostOptions) *Host {
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.PtyFactory == nil {
		opts.PtyFactory = DefaultPtyFactory()
	}
	if opts.BufferLines <= 0 {
		opts.BufferLines = DefaultBufferLines
	}
	if opts.HistoryLines <= 0 {
		opts.HistoryLines = DefaultHistoryLines
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}
	if opts.Registry == nil {
		opts.Registry = process.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Host{
		opts:     opts,
		sessions: make(map[process.Handle]*Session),
	}
}

func (h *Host) CreateProcess(ctx context.Context, cfg process.Config) (process.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	commandLine := strings.TrimSpace(cfg.Command)
	if commandLine == "" {
		commandLine = h.opts.Shell
	}
	command, args, err := splitCommandLine(commandLine)
	if err != nil {
		return "", fmt.Errorf("parse command %q: %w", commandLine, err)
	}
	name := cfg.Name
	if name == "" {
		name = command
	}
	return h.spawn(ctx, name, commandLine, LaunchSpec{
		Command: command,
		Args:    args,
		Dir:     cfg.WorkingDir,
		Env:     mergeEnv(process.EnvFromContext(ctx), cfg.Env),
		Cols:    h.opts.Cols,
		Rows:    h.opts.Rows,
	})
}

// CreatePersistentProcess starts an interactive shell in cwd. Variables
// attached to ctx with process.WithEnv are exported to it.
func (h *Host) CreatePersistentProcess(ctx context.Context, cwd string) (process.Handle, error) {
	return h.CreateProcess(ctx, process.Config{
		Name:       "persistent",
		Command:    h.opts.Shell,
		WorkingDir: cwd,
	})
}

func (h *Host) spawn(ctx context.Context, name, commandLine string, spec LaunchSpec) (process.Handle, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return "", process.ErrServiceUnavailable
	}

	pty, cmd, err := h.opts.PtyFactory.Start(spec)
	if err != nil {
		if errors.Is(err, ErrPtyUnsupported) {
			return "", fmt.Errorf("%w: %w", process.ErrServiceUnavailable, err)
		}
		return "", fmt.Errorf("start pty: %w", err)
	}

	handle := process.Handle("pty-" + strconv.FormatUint(h.nextID.Add(1), 10))
	session := newSession(handle, pty, cmd, name, commandLine, h.opts.Now(), h.opts.BufferLines)

	fields := map[string]string{
		"handle":  string(handle),
		"command": commandLine,
	}
	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		exited := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(exited)
		}()
		h.opts.Registry.Register(handle, pid, func(ctx context.Context) error {
			select {
			case <-exited:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		fields["pid"] = strconv.Itoa(pid)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if err := h.release(ctx, handle, session); err != nil {
			h.opts.Logger.Warn("release pty session after close failed", map[string]string{
				"handle": string(handle),
				"error":  err.Error(),
			})
		}
		return "", process.ErrServiceUnavailable
	}
	h.sessions[handle] = session
	h.mu.Unlock()

	h.opts.Logger.Info("pty session started", fields)
	return handle, nil
}

// RunCommand types command into the target terminal and submits it.
func (h *Host) RunCommand(ctx context.Context, command string, target process.Handle) error {
	return h.SendInput(ctx, target, command, true)
}

func (h *Host) Focus(ctx context.Context, target process.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[target]; !ok {
		return fmt.Errorf("%w: %s", process.ErrHandleNotFound, target)
	}
	h.focused = target
	return nil
}

// Focused returns the handle most recently focused.
func (h *Host) Focused() process.Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.focused
}

func (h *Host) GetHandle(id string) (process.Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[process.Handle(id)]
	if !ok {
		return "", false
	}
	return process.Handle(id), true
}

func (h *Host) SendInput(ctx context.Context, target process.Handle, text string, submit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	session, err := h.session(target)
	if err != nil {
		return err
	}
	if submit {
		text += submitSequence
	}
	if err := session.Write([]byte(text)); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// ReadOutput returns the recent output of target with escape sequences
// removed, one line per buffered line.
func (h *Host) ReadOutput(ctx context.Context, target process.Handle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	session, err := h.session(target)
	if err != nil {
		return "", err
	}
	return StripANSI(strings.Join(session.Tail(h.opts.HistoryLines), "\n")), nil
}

// Kill stops the process group behind target and releases its terminal.
func (h *Host) Kill(ctx context.Context, target process.Handle) error {
	h.mu.Lock()
	session, ok := h.sessions[target]
	if ok {
		delete(h.sessions, target)
		if h.focused == target {
			h.focused = ""
		}
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", process.ErrHandleNotFound, target)
	}

	err := h.release(ctx, target, session)
	h.opts.Logger.Info("pty session killed", map[string]string{"handle": string(target)})
	return err
}

// release stops the process behind a session that is no longer tracked and
// closes its terminal.
func (h *Host) release(ctx context.Context, target process.Handle, session *Session) error {
	var errs []error
	if err := h.opts.Registry.Stop(ctx, target); err != nil && !errors.Is(err, process.ErrHandleNotFound) {
		errs = append(errs, fmt.Errorf("stop process: %w", err))
	}
	if err := session.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Subscribe streams raw output chunks of target until cancel is called or
// the session ends.
func (h *Host) Subscribe(target process.Handle) (<-chan []byte, func(), error) {
	session, err := h.session(target)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

func (h *Host) Sessions() []SessionInfo {
	h.mu.RLock()
	infos := make([]SessionInfo, 0, len(h.sessions))
	for _, session := range h.sessions {
		infos = append(infos, session.Info())
	}
	h.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Handle < infos[j].Handle
	})
	return infos
}

// Close kills every session and refuses new ones.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	handles := make([]process.Handle, 0, len(h.sessions))
	for handle := range h.sessions {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	var errs []error
	for _, handle := range handles {
		if err := h.Kill(ctx, handle); err != nil && !errors.Is(err, process.ErrHandleNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) session(target process.Handle) (*Session, error) {
	h.mu.RLock()
	session, ok := h.sessions[target]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", process.ErrHandleNotFound, target)
	}
	return session, nil
}

// mergeEnv flattens env layers into sorted KEY=VALUE pairs; later layers win.
func mergeEnv(layers ...map[string]string) []string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for key, value := range layer {
			merged[key] = value
		}
	}
	if len(merged) == 0 {
		return nil
	}
	env := make([]string, 0, len(merged))
	for key, value := range merged {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}
