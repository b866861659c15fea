package event

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ensemble/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(42)

	if got := ReceiveWithTimeout(t, ch, 100*time.Millisecond); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	ch, _ := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after bus close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}

	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected subscription after close to be closed")
	}
}

func TestBusDropOnFull(t *testing.T) {
	registry := metrics.NewRegistry()
	bus := NewBus[sampleEvent](context.Background(), BusOptions{
		Name:                 "drop",
		SubscriberBufferSize: 1,
		Registry:             registry,
	})
	t.Cleanup(bus.Close)

	ch, _ := bus.Subscribe()

	bus.Publish(sampleEvent{kind: "alpha"})

	done := make(chan struct{})
	go func() {
		bus.Publish(sampleEvent{kind: "alpha"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked on a full subscriber")
	}

	ReceiveWithTimeout(t, ch, 100*time.Millisecond)
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	expected := `
# HELP ensemble_events_dropped_total Events dropped for slow subscribers, by bus and type
# TYPE ensemble_events_dropped_total counter
ensemble_events_dropped_total{bus="drop",type="alpha"} 1
`
	if err := testutil.GatherAndCompare(registry.Gatherer(), strings.NewReader(expected), "ensemble_events_dropped_total"); err != nil {
		t.Fatalf("unexpected dropped metrics: %v", err)
	}
}

func TestBusHistoryStoresRecentEvents(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{HistorySize: 2})
	t.Cleanup(bus.Close)

	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3)

	history := bus.DumpHistory()
	if len(history) != 2 || history[0] != 2 || history[1] != 3 {
		t.Fatalf("unexpected history events: %#v", history)
	}
}

func TestBusReplayLastSendsRecentEvents(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{HistorySize: 3})
	t.Cleanup(bus.Close)

	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3)

	replay := make(chan int, 2)
	bus.ReplayLast(2, replay)

	first := ReceiveWithTimeout(t, replay, 100*time.Millisecond)
	second := ReceiveWithTimeout(t, replay, 100*time.Millisecond)
	if first != 2 || second != 3 {
		t.Fatalf("unexpected replay events: %d, %d", first, second)
	}
}

func TestBusSubscribeFiltered(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, _ := bus.SubscribeFiltered(func(value int) bool {
		return value%2 == 0
	})

	bus.Publish(1)
	bus.Publish(2)

	if got := ReceiveWithTimeout(t, ch, 100*time.Millisecond); got != 2 {
		t.Fatalf("expected filtered event 2, got %d", got)
	}
	if rest := Drain(ch); len(rest) != 0 {
		t.Fatalf("unexpected events %#v", rest)
	}
}

func TestBusSubscribeTypes(t *testing.T) {
	bus := NewBus[InstanceEvent](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, _ := bus.SubscribeTypes(TypeInstanceActive, TypeInstanceRemoved)

	now := time.Now()
	bus.Publish(NewInstanceEvent(TypeInstanceCreated, "a", "cto", "starting", now))
	bus.Publish(NewInstanceEvent(TypeInstanceActive, "a", "cto", "active", now))
	bus.Publish(NewInstanceEvent(TypeInstanceRemoved, "a", "cto", "", now))

	first := ReceiveWithTimeout(t, ch, 100*time.Millisecond)
	second := ReceiveWithTimeout(t, ch, 100*time.Millisecond)
	if first.Type() != TypeInstanceActive || second.Type() != TypeInstanceRemoved {
		t.Fatalf("unexpected events %q %q", first.Type(), second.Type())
	}
}

func TestBusMaxSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{MaxSubscribers: 1})
	t.Cleanup(bus.Close)

	_, cancel := bus.Subscribe()
	defer cancel()
	rejected, _ := bus.Subscribe()
	if _, ok := <-rejected; ok {
		t.Fatal("expected rejected subscription to be closed")
	}
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}
}

func TestBusContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{})

	ch, _ := bus.Subscribe()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after context cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusFilterPanicDoesNotBreakPublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	_, _ = bus.SubscribeFiltered(func(int) bool { panic("bad filter") })
	ch, _ := bus.Subscribe()

	bus.Publish(7)
	if got := ReceiveWithTimeout(t, ch, 100*time.Millisecond); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestBusConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(value int) {
			defer wg.Done()
			ch, cancel := bus.Subscribe()
			defer cancel()
			bus.Publish(value)
			select {
			case <-ch:
			case <-time.After(100 * time.Millisecond):
				t.Errorf("timeout waiting for event %d", value)
			}
		}(i)
	}
	wg.Wait()
}

type sampleEvent struct {
	kind string
}

func (s sampleEvent) Type() string {
	return s.kind
}
