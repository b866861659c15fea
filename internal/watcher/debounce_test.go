package watcher

import (
	"testing"
	"time"
)

func TestDebouncerCoalescesEvents(t *testing.T) {
	debouncer := newDebouncer(25 * time.Millisecond)
	defer debouncer.stop()

	received := make(chan string, 2)
	flush := func(path string) {
		received <- path
	}

	if debouncer.schedule("dir", Event{Path: "dir/a"}, flush) {
		t.Fatalf("expected first event not to be coalesced")
	}
	if !debouncer.schedule("dir", Event{Path: "dir/b"}, flush) {
		t.Fatalf("expected second event to be coalesced")
	}

	count := 0
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case key := <-received:
			count++
			event, ok := debouncer.pop(key)
			if !ok || event.Path != "dir/b" {
				t.Fatalf("expected latest event retained, got %+v %v", event, ok)
			}
		case <-deadline:
			if count != 1 {
				t.Fatalf("expected 1 flush, got %d", count)
			}
			return
		}
	}
}
