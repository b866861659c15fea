package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake is a manually driven clock. Sleep advances virtual time by the
// requested duration without blocking, so a pipeline of sleeps completes
// immediately while its recorded timestamps still reflect the delays.
// AfterFunc callbacks fire synchronously once virtual time passes their
// deadline, either through Advance or through another goroutine's Sleep.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	nextID uint64
}

type fakeTimer struct {
	id       uint64
	deadline time.Time
	fn       func()
	clock    *Fake
	stopped  bool
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	f.Advance(d)
	return nil
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	f.nextID++
	timer := &fakeTimer{
		id:       f.nextID,
		deadline: f.now.Add(d),
		fn:       fn,
		clock:    f,
	}
	f.timers = append(f.timers, timer)
	f.mu.Unlock()
	if d <= 0 {
		f.Advance(0)
	}
	return timer
}

// Advance moves virtual time forward and fires every due timer in deadline order.
func (f *Fake) Advance(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	due := make([]*fakeTimer, 0)
	pending := f.timers[:0]
	for _, timer := range f.timers {
		if timer.stopped {
			continue
		}
		if !timer.deadline.After(now) {
			timer.stopped = true
			due = append(due, timer)
			continue
		}
		pending = append(pending, timer)
	}
	f.timers = pending
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		timer.fn()
	}
}

// PendingTimers reports how many AfterFunc callbacks have not fired yet.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, timer := range f.timers {
		if !timer.stopped {
			count++
		}
	}
	return count
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
