package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeSleepAdvancesTime(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	if err := fake.Sleep(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if got := fake.Now().Sub(start); got != 5*time.Second {
		t.Fatalf("expected 5s elapsed, got %s", got)
	}
}

func TestFakeSleepHonorsCanceledContext(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fake.Sleep(ctx, time.Second); err == nil {
		t.Fatalf("expected context error")
	}
	if !fake.Now().Equal(time.Unix(0, 0)) {
		t.Fatalf("expected time to stay put")
	}
}

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	fired := 0
	fake.AfterFunc(time.Second, func() { fired++ })

	fake.Advance(999 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("timer fired early")
	}
	fake.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected timer to fire once, got %d", fired)
	}
	fake.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("expected timer to stay fired once, got %d", fired)
	}
}

func TestFakeTimerStop(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected first stop to report true")
	}
	fake.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if fake.PendingTimers() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestRealSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Real().Sleep(ctx, time.Hour); err == nil {
		t.Fatalf("expected canceled sleep to return error")
	}
}
