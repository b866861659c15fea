package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	TypeInstanceCreated    = "instance_created"
	TypeInstanceActive     = "instance_active"
	TypeInstanceTerminated = "instance_terminated"
	TypeInstanceRemoved    = "instance_removed"
	TypeInstanceFailed     = "instance_failed"
	TypeSetupComplete      = "setup_complete"
	TypeSetupStopped       = "setup_stopped"
	TypeCatalogReloaded    = "catalog_reloaded"
	TypeFileChanged        = "file_changed"
)

// InstanceEvent captures instance lifecycle and setup progress changes.
type InstanceEvent struct {
	EventType  string            `json:"type"`
	InstanceID string            `json:"instance_id"`
	RoleID     string            `json:"role_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"timestamp"`
}

func NewInstanceEvent(eventType, instanceID, roleID, status string, at time.Time) InstanceEvent {
	return InstanceEvent{
		EventType:  eventType,
		InstanceID: instanceID,
		RoleID:     roleID,
		Status:     status,
		OccurredAt: at.UTC(),
	}
}

func (e InstanceEvent) Type() string {
	return e.EventType
}

func (e InstanceEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// CatalogEvent is published after the role and team catalog is swapped.
type CatalogEvent struct {
	EventType  string    `json:"type"`
	Source     string    `json:"source"`
	Roles      int       `json:"roles"`
	Teams      int       `json:"teams"`
	OccurredAt time.Time `json:"timestamp"`
}

func NewCatalogEvent(source string, roles, teams int) CatalogEvent {
	return CatalogEvent{
		EventType:  TypeCatalogReloaded,
		Source:     source,
		Roles:      roles,
		Teams:      teams,
		OccurredAt: time.Now().UTC(),
	}
}

func (e CatalogEvent) Type() string {
	return e.EventType
}

func (e CatalogEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// FileEvent represents a filesystem change.
type FileEvent struct {
	EventType  string
	Path       string
	Operation  string
	OccurredAt time.Time
}

func NewFileEvent(path, operation string) FileEvent {
	return FileEvent{
		EventType:  TypeFileChanged,
		Path:       path,
		Operation:  operation,
		OccurredAt: time.Now().UTC(),
	}
}

func (e FileEvent) Type() string {
	return e.EventType
}

func (e FileEvent) Timestamp() time.Time {
	return e.OccurredAt
}
