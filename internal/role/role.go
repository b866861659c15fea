// Package role holds the immutable role and team template catalog that
// instances are spawned from.
package role

import (
	"fmt"
	"strings"
)

// Role describes a kind of agent session. AllowedTools is advisory and is not
// enforced by the orchestrator.
type Role struct {
	ID           string   `toml:"id" json:"id"`
	Order        int      `toml:"order" json:"-"`
	Name         string   `toml:"name" json:"name"`
	Description  string   `toml:"description" json:"description"`
	Color        string   `toml:"color" json:"color"`
	Icon         string   `toml:"icon" json:"icon"`
	AllowedTools []string `toml:"allowed_tools" json:"allowed_tools"`
	Prompt       string   `toml:"prompt" json:"prompt"`
}

// DisplayName is the label given to instances of the role.
func (r Role) DisplayName() string {
	return strings.TrimSpace(r.Icon + " " + r.Name)
}

func (r Role) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{Path: "id", Message: "is required"}
	}
	if strings.ContainsAny(r.ID, " \t\n/") {
		return &ValidationError{Path: "id", Message: fmt.Sprintf("%q must not contain whitespace or slashes", r.ID)}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Path: "name", Message: "is required"}
	}
	return nil
}

// TeamTemplate is an ordered list of role IDs spawned together. Duplicates
// are allowed and order is significant.
type TeamTemplate struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Icon        string   `yaml:"icon" json:"icon"`
	Roles       []string `yaml:"roles" json:"roles"`
}

func (t TeamTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Path: "id", Message: "is required"}
	}
	if len(t.Roles) == 0 {
		return &ValidationError{Path: "roles", Message: "must list at least one role"}
	}
	return nil
}

type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path == "" {
		return e.Message
	}
	return e.Path + " " + e.Message
}
