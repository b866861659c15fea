package orchestrator

import "errors"

var (
	ErrRoleNotFound      = errors.New("role not found")
	ErrTemplateNotFound  = errors.New("team template not found")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrAllocationFailed  = errors.New("process allocation failed")
	ErrNoProcess         = errors.New("instance has no backing process")
	ErrInstanceNotActive = errors.New("instance is not active")
)
