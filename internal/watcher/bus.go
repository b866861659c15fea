package watcher

import (
	"errors"

	"ensemble/internal/event"
)

// WatchFile registers a filesystem watch and publishes file change events.
func WatchFile(bus *event.Bus[event.FileEvent], watch Watch, path string) (Handle, error) {
	if bus == nil {
		return nil, errors.New("event bus is nil")
	}
	if watch == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}

	return watch.Watch(path, func(change Event) {
		published := event.NewFileEvent(change.Path, change.Op.String())
		if !change.Timestamp.IsZero() {
			published.OccurredAt = change.Timestamp
		}
		bus.Publish(published)
	})
}
