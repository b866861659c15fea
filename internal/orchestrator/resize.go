package orchestrator

import (
	"fmt"

	"ensemble/internal/instance"
)

// Resize stores height for id, clamped to [instance.MinHeight, instance.MaxHeight].
func (m *Manager) Resize(id string, height int) (instance.Instance, error) {
	record, err := m.store.Update(id, func(current instance.Instance) instance.Instance {
		current.DisplayHeight = instance.ClampHeight(height)
		return current
	})
	if err != nil {
		return instance.Instance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return record, nil
}
