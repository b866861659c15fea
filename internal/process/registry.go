package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultStopTimeout = 5 * time.Second

var ErrProcessNotFound = errors.New("process not running")

// Entry is a registered process. PGID is zero when the process does not lead
// its own group.
type Entry struct {
	Handle Handle
	PID    int
	PGID   int
	Wait   func(context.Context) error
}

// Registry tracks the OS processes behind handles so they can be stopped as a
// group, individually or all at once on shutdown.
type Registry struct {
	mu      sync.Mutex
	entries map[Handle]Entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Handle]Entry),
	}
}

// Register records the process started for handle. wait, when set, reports
// the exit of pid; otherwise liveness is polled.
func (r *Registry) Register(handle Handle, pid int, wait func(context.Context) error) {
	if r == nil || pid <= 0 || handle == "" {
		return
	}
	entry := Entry{
		Handle: handle,
		PID:    pid,
		PGID:   groupOf(pid),
		Wait:   wait,
	}
	r.mu.Lock()
	r.entries[handle] = entry
	r.mu.Unlock()
}

func (r *Registry) Unregister(handle Handle) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.entries, handle)
	r.mu.Unlock()
}

func (r *Registry) Lookup(handle Handle) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[handle]
	return entry, ok
}

// Stop terminates the process group behind handle and forgets it. A process
// that already exited is not an error.
func (r *Registry) Stop(ctx context.Context, handle Handle) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entry, ok := r.entries[handle]
	delete(r.entries, handle)
	r.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	if err := entry.stop(ctx); err != nil && !errors.Is(err, ErrProcessNotFound) {
		return err
	}
	return nil
}

func (r *Registry) StopAll(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.entries = make(map[Handle]Entry)
	r.mu.Unlock()

	var stopErr error
	for _, entry := range entries {
		if err := entry.stop(ctx); err != nil && !errors.Is(err, ErrProcessNotFound) {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", entry.Handle, err))
		}
	}
	return stopErr
}

// stop asks the process group to terminate, waits for the exit and escalates
// to a forced kill when the wait fails.
func (e Entry) stop(ctx context.Context) error {
	if e.PID <= 0 {
		return nil
	}
	if !alive(e.PID) {
		return ErrProcessNotFound
	}
	termErr := e.signal(false)
	waitErr := e.waitExit(ctx)
	if waitErr == nil || killedBySignal(waitErr) {
		return termErr
	}
	killErr := e.signal(true)
	_ = e.waitExit(ctx)
	return errors.Join(termErr, waitErr, killErr)
}

func (e Entry) waitExit(ctx context.Context) error {
	if e.Wait != nil {
		return e.Wait(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultStopTimeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for alive(e.PID) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
