// Package instance holds the instance value record and the in-memory store
// that owns every record for the lifetime of the process.
package instance

import (
	"time"

	"ensemble/internal/process"
	"ensemble/internal/role"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// SetupState tracks the startup choreography of an instance.
type SetupState string

const (
	SetupPending  SetupState = "pending"
	SetupRunning  SetupState = "running"
	SetupComplete SetupState = "complete"
	SetupStopped  SetupState = "stopped"
	SetupFailed   SetupState = "failed"
	SetupSkipped  SetupState = "skipped"
)

const (
	DefaultHeight = 300
	MinHeight     = 80
	MaxHeight     = 600
)

// Instance is a value record. Mutations go through Store.Update, which
// replaces the whole record.
type Instance struct {
	ID            string         `json:"id"`
	RoleID        string         `json:"role_id"`
	Role          role.Role      `json:"role"`
	Name          string         `json:"name"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	Handle        process.Handle `json:"handle,omitempty"`
	ShowHistory   bool           `json:"show_history"`
	History       string         `json:"history"`
	DisplayHeight int            `json:"display_height"`
	Setup         SetupState     `json:"setup"`
	SetupErrors   int            `json:"setup_errors,omitempty"`
}

// New returns a starting record with the default presentation state.
func New(id string, r role.Role, createdAt time.Time) Instance {
	return Instance{
		ID:            id,
		RoleID:        r.ID,
		Role:          cloneRole(r),
		Name:          r.DisplayName(),
		Status:        StatusStarting,
		CreatedAt:     createdAt,
		ShowHistory:   true,
		DisplayHeight: DefaultHeight,
		Setup:         SetupPending,
	}
}

// HasProcess reports whether the record is backed by a live process handle.
func (i Instance) HasProcess() bool {
	return i.Handle != ""
}

// Degraded is an active record without a process handle.
func (i Instance) Degraded() bool {
	return i.Status == StatusActive && !i.HasProcess()
}

// ClampHeight bounds a requested display height to [MinHeight, MaxHeight].
func ClampHeight(height int) int {
	return max(MinHeight, min(MaxHeight, height))
}

// CanTransition enforces starting -> active -> terminated. Removal is not a
// status and is allowed from any state.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusStarting:
		return to == StatusActive || to == StatusTerminated
	case StatusActive:
		return to == StatusTerminated
	default:
		return false
	}
}

func (i Instance) clone() Instance {
	i.Role = cloneRole(i.Role)
	return i
}

func cloneRole(r role.Role) role.Role {
	r.AllowedTools = append([]string(nil), r.AllowedTools...)
	return r
}
