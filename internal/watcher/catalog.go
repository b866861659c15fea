package watcher

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/role"
)

// CatalogOptions configures WatchCatalog.
type CatalogOptions struct {
	RolesDir  string
	TeamsFile string
	// Defaults fills in whichever of RolesDir or TeamsFile is unset.
	Defaults fs.FS
	Apply    func(*role.Catalog)
	Bus      *event.Bus[event.CatalogEvent]
	Logger   *logging.Logger
}

// CatalogWatch reloads the role and team catalog when its files change.
type CatalogWatch struct {
	opts    CatalogOptions
	mu      sync.Mutex
	handles []Handle
}

// WatchCatalog watches the configured roles directory and the directory
// holding the teams file. Each change re-reads both sources; a catalog that
// fails to load is logged and the current one is kept.
func WatchCatalog(watch Watch, opts CatalogOptions) (*CatalogWatch, error) {
	if watch == nil {
		return nil, errors.New("watcher is nil")
	}
	if opts.Apply == nil {
		return nil, errors.New("apply callback is required")
	}
	if strings.TrimSpace(opts.RolesDir) == "" && strings.TrimSpace(opts.TeamsFile) == "" {
		return nil, errors.New("no catalog files to watch")
	}

	cw := &CatalogWatch{opts: opts}
	if dir := strings.TrimSpace(opts.RolesDir); dir != "" {
		if err := cw.add(watch, dir, cw.isRoleFile); err != nil {
			_ = cw.Close()
			return nil, err
		}
	}
	if file := strings.TrimSpace(opts.TeamsFile); file != "" {
		if err := cw.add(watch, filepath.Dir(file), cw.isTeamsFile); err != nil {
			_ = cw.Close()
			return nil, err
		}
	}
	return cw, nil
}

func (cw *CatalogWatch) add(watch Watch, path string, relevant func(string) bool) error {
	handle, err := watch.Watch(path, func(change Event) {
		if relevant(change.Path) {
			cw.Reload(change.Path)
		}
	})
	if err != nil {
		return err
	}
	cw.mu.Lock()
	cw.handles = append(cw.handles, handle)
	cw.mu.Unlock()
	return nil
}

func (cw *CatalogWatch) isRoleFile(path string) bool {
	return filepath.Clean(filepath.Dir(path)) == filepath.Clean(cw.opts.RolesDir) &&
		strings.EqualFold(filepath.Ext(path), ".toml")
}

func (cw *CatalogWatch) isTeamsFile(path string) bool {
	return filepath.Clean(path) == filepath.Clean(cw.opts.TeamsFile)
}

// Reload loads the catalog now and applies it when valid.
func (cw *CatalogWatch) Reload(trigger string) error {
	catalog, err := role.Load(role.LoadOptions{
		RolesDir:  cw.opts.RolesDir,
		TeamsFile: cw.opts.TeamsFile,
		Defaults:  cw.opts.Defaults,
	})
	if err != nil {
		cw.opts.Logger.Warn("catalog reload rejected", map[string]string{
			"ensemble.category": "watcher",
			"path":              trigger,
			"error":             err.Error(),
		})
		return err
	}

	cw.opts.Apply(catalog)
	roles, teams := len(catalog.Roles()), len(catalog.Teams())
	cw.opts.Logger.Info("catalog reloaded", map[string]string{
		"ensemble.category": "watcher",
		"path":              trigger,
		"roles":             strconv.Itoa(roles),
		"teams":             strconv.Itoa(teams),
	})
	if cw.opts.Bus != nil {
		cw.opts.Bus.Publish(event.NewCatalogEvent(catalog.Source(), roles, teams))
	}
	return nil
}

func (cw *CatalogWatch) Close() error {
	cw.mu.Lock()
	handles := cw.handles
	cw.handles = nil
	cw.mu.Unlock()

	var errs []error
	for _, handle := range handles {
		if err := handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
