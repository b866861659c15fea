package role

import (
	"fmt"
	"sort"
)

// Catalog is an immutable snapshot of roles and team templates. Reloads build
// a new Catalog instead of mutating one in place.
type Catalog struct {
	roles     map[string]Role
	roleOrder []string
	teams     map[string]TeamTemplate
	teamOrder []string
	source    string
}

// NewCatalog validates roles and teams and returns a catalog. Roles are
// ordered by Order then ID; teams keep the order given. Every team member must
// name a known role.
func NewCatalog(source string, roles []Role, teams []TeamTemplate) (*Catalog, error) {
	catalog := &Catalog{
		roles:  make(map[string]Role, len(roles)),
		teams:  make(map[string]TeamTemplate, len(teams)),
		source: source,
	}

	sorted := make([]Role, len(roles))
	copy(sorted, roles)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, role := range sorted {
		if err := role.Validate(); err != nil {
			return nil, fmt.Errorf("role %q: %w", role.ID, err)
		}
		if _, exists := catalog.roles[role.ID]; exists {
			return nil, fmt.Errorf("duplicate role id %q", role.ID)
		}
		role.AllowedTools = append([]string(nil), role.AllowedTools...)
		catalog.roles[role.ID] = role
		catalog.roleOrder = append(catalog.roleOrder, role.ID)
	}

	for _, team := range teams {
		if err := team.Validate(); err != nil {
			return nil, fmt.Errorf("team %q: %w", team.ID, err)
		}
		if _, exists := catalog.teams[team.ID]; exists {
			return nil, fmt.Errorf("duplicate team id %q", team.ID)
		}
		for i, roleID := range team.Roles {
			if _, ok := catalog.roles[roleID]; !ok {
				return nil, fmt.Errorf("team %q: %w", team.ID, &ValidationError{
					Path:    fmt.Sprintf("roles[%d]", i),
					Message: fmt.Sprintf("references unknown role %q", roleID),
				})
			}
		}
		team.Roles = append([]string(nil), team.Roles...)
		catalog.teams[team.ID] = team
		catalog.teamOrder = append(catalog.teamOrder, team.ID)
	}
	return catalog, nil
}

func (c *Catalog) Role(id string) (Role, bool) {
	if c == nil {
		return Role{}, false
	}
	role, ok := c.roles[id]
	if !ok {
		return Role{}, false
	}
	role.AllowedTools = append([]string(nil), role.AllowedTools...)
	return role, true
}

func (c *Catalog) Roles() []Role {
	if c == nil {
		return nil
	}
	roles := make([]Role, 0, len(c.roleOrder))
	for _, id := range c.roleOrder {
		role, _ := c.Role(id)
		roles = append(roles, role)
	}
	return roles
}

func (c *Catalog) Team(id string) (TeamTemplate, bool) {
	if c == nil {
		return TeamTemplate{}, false
	}
	team, ok := c.teams[id]
	if !ok {
		return TeamTemplate{}, false
	}
	team.Roles = append([]string(nil), team.Roles...)
	return team, true
}

func (c *Catalog) Teams() []TeamTemplate {
	if c == nil {
		return nil
	}
	teams := make([]TeamTemplate, 0, len(c.teamOrder))
	for _, id := range c.teamOrder {
		team, _ := c.Team(id)
		teams = append(teams, team)
	}
	return teams
}

// Source names where the catalog was loaded from.
func (c *Catalog) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}
