package logging

import (
	"sync"

	"ensemble/internal/buffer"
)

type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Recent returns up to limit of the newest entries at or above minLevel, oldest first.
func (b *LogBuffer) Recent(limit int, minLevel Level) []LogEntry {
	b.mu.Lock()
	all := b.entries.List()
	b.mu.Unlock()

	filtered := make([]LogEntry, 0, len(all))
	for _, entry := range all {
		if LevelAtLeast(entry.Level, minLevel) {
			filtered = append(filtered, entry)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}
