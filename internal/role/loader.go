package role

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRolesDir  = "config/roles"
	DefaultTeamsFile = "config/teams.yaml"
)

// LoadOptions selects the catalog sources. Empty paths fall back to the
// embedded defaults.
type LoadOptions struct {
	RolesDir  string
	TeamsFile string
	Defaults  fs.FS
}

func Load(opts LoadOptions) (*Catalog, error) {
	roles, rolesSource, err := loadRoles(opts)
	if err != nil {
		return nil, err
	}
	teams, teamsSource, err := loadTeams(opts)
	if err != nil {
		return nil, err
	}
	return NewCatalog(rolesSource+";"+teamsSource, roles, teams)
}

func loadRoles(opts LoadOptions) ([]Role, string, error) {
	if strings.TrimSpace(opts.RolesDir) != "" {
		roles, err := LoadRolesFS(os.DirFS(opts.RolesDir), ".")
		return roles, opts.RolesDir, err
	}
	if opts.Defaults == nil {
		return nil, "", errors.New("no roles dir configured and no defaults available")
	}
	roles, err := LoadRolesFS(opts.Defaults, DefaultRolesDir)
	return roles, "embedded:" + DefaultRolesDir, err
}

func loadTeams(opts LoadOptions) ([]TeamTemplate, string, error) {
	if strings.TrimSpace(opts.TeamsFile) != "" {
		data, err := os.ReadFile(opts.TeamsFile)
		if err != nil {
			return nil, "", fmt.Errorf("read teams file %s: %w", opts.TeamsFile, err)
		}
		teams, err := ParseTeams(filepath.Base(opts.TeamsFile), data)
		return teams, opts.TeamsFile, err
	}
	if opts.Defaults == nil {
		return nil, "", errors.New("no teams file configured and no defaults available")
	}
	data, err := fs.ReadFile(opts.Defaults, DefaultTeamsFile)
	if err != nil {
		return nil, "", fmt.Errorf("read teams file %s: %w", DefaultTeamsFile, err)
	}
	teams, err := ParseTeams(DefaultTeamsFile, data)
	return teams, "embedded:" + DefaultTeamsFile, err
}

// LoadRolesFS reads every *.toml file in dir. A file without an id takes its
// file name stem as the role ID.
func LoadRolesFS(fsys fs.FS, dir string) ([]Role, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read roles dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(path.Ext(entry.Name())) != ".toml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	roles := make([]Role, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read role file %s: %w", name, err)
		}
		role, err := ParseRole(name, data)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func ParseRole(fileName string, data []byte) (Role, error) {
	var role Role
	if _, err := toml.Decode(string(data), &role); err != nil {
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return Role{}, fmt.Errorf("parse role file %s: %s", fileName, parseErr.ErrorWithPosition())
		}
		return Role{}, fmt.Errorf("parse role file %s: %w", fileName, err)
	}
	if strings.TrimSpace(role.ID) == "" {
		role.ID = strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	}
	role.Prompt = strings.TrimSpace(role.Prompt)
	if err := role.Validate(); err != nil {
		return Role{}, fmt.Errorf("validate role file %s: %w", fileName, err)
	}
	return role, nil
}

type teamsFile struct {
	Teams []TeamTemplate `yaml:"teams"`
}

func ParseTeams(fileName string, data []byte) ([]TeamTemplate, error) {
	var parsed teamsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse teams file %s: %w", fileName, err)
	}
	for i, team := range parsed.Teams {
		if err := team.Validate(); err != nil {
			return nil, fmt.Errorf("validate teams file %s: teams[%d]: %w", fileName, i, err)
		}
	}
	return parsed.Teams, nil
}
