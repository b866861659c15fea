package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"ensemble/internal/instance"
)

// NormalizeHistory collapses every whitespace run to a single space and
// trims the result.
func NormalizeHistory(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// RunPoller refreshes history snapshots every PollInterval until ctx is done.
func (m *Manager) RunPoller(ctx context.Context) {
	for {
		if err := m.clock.Sleep(ctx, m.timings.PollInterval); err != nil {
			return
		}
		m.PollOnce(ctx)
	}
}

// PollOnce refreshes the history of every active, shown, process-backed
// instance. A failed read leaves that instance's snapshot stale.
func (m *Manager) PollOnce(ctx context.Context) {
	for _, record := range m.store.Select(pollable) {
		if ctx.Err() != nil {
			return
		}
		m.refreshHistory(ctx, record.ID)
	}
}

func pollable(record instance.Instance) bool {
	return record.Status == instance.StatusActive && record.ShowHistory && record.HasProcess()
}

func (m *Manager) refreshHistory(ctx context.Context, id string) {
	record, ok := m.store.Get(id)
	if !ok || !pollable(record) {
		return
	}
	output, err := m.service.ReadOutput(ctx, record.Handle)
	m.metrics.RecordPoll(err)
	if err != nil {
		m.logger.Warn("read output failed", map[string]string{
			"instance.id": id,
			"error":       err.Error(),
		})
		return
	}
	history := NormalizeHistory(output)
	_, _ = m.store.Update(id, func(current instance.Instance) instance.Instance {
		if pollable(current) {
			current.History = history
		}
		return current
	})
}

// History returns the latest normalised snapshot of id.
func (m *Manager) History(id string) (string, error) {
	record, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return record.History, nil
}

// ToggleHistory shows or hides the history of id. Showing it takes a fresh
// snapshot right away.
func (m *Manager) ToggleHistory(ctx context.Context, id string, show bool) (instance.Instance, error) {
	record, err := m.store.Update(id, func(current instance.Instance) instance.Instance {
		current.ShowHistory = show
		if show && current.DisplayHeight == 0 {
			current.DisplayHeight = instance.DefaultHeight
		}
		return current
	})
	if err != nil {
		return instance.Instance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if show {
		m.refreshHistory(ctx, id)
		if refreshed, ok := m.store.Get(id); ok {
			record = refreshed
		}
	}
	return record, nil
}
