/*
Package registry discovers and loads DSP units from a directory of shared
library artifacts.

Every artifact must export unit.FactorySymbol. Artifacts that fail to open,
lack the symbol or fail during construction are logged and skipped, so a
partially successful load is normal.

Ownership is kept in two tiers: opened artifacts and the unit instances
they produced. Close releases all instances before any artifact is closed.
*/
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dudk/fxchain/log"
	"github.com/dudk/fxchain/unit"
)

var (
	// ErrNotFound is returned when a unit name is not in the catalog.
	ErrNotFound = errors.New("unit not found")
	// ErrNoFactory is returned when an artifact lacks a valid factory symbol.
	ErrNoFactory = errors.New("factory symbol not found")
	// ErrConstruct is returned when the factory fails to produce a unit.
	ErrConstruct = errors.New("unit construction failed")
)

// Option provides a way to set functional parameters to registry.
type Option func(r *Registry)

// WithOpener sets the artifact opener. Default is GoPlugin behind Staged.
func WithOpener(o Opener) Option {
	return func(r *Registry) {
		r.opener = o
	}
}

// WithLogger sets logger to registry. If this option is not provided,
// silent logger is used.
func WithLogger(l log.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// WithExtension sets the artifact file suffix. Default is Extension().
func WithExtension(ext string) Option {
	return func(r *Registry) {
		r.ext = ext
	}
}

// Registry holds loaded units indexed by descriptor name.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	ext    string
	opener Opener
	log    log.Logger

	artifacts []Artifact
	units     map[string]unit.Unit
}

// New creates a registry and loads units from dir.
func New(dir string, options ...Option) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		ext:    Extension(),
		opener: Staged{Dir: StageDir(), Opener: GoPlugin{}},
		log:    log.Silent(),
		units:  make(map[string]unit.Unit),
	}
	for _, option := range options {
		option(r)
	}
	if err := r.Load(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the last loaded directory.
func (r *Registry) Dir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Load scans dir non-recursively and loads every artifact. Only an
// unreadable directory is an error. When two artifacts describe the same
// name, the one loaded last wins; files are visited in lexical order.
func (r *Registry) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read unit directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), r.ext) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.load(path); err != nil {
			r.log.WithField("path", path).WithField("error", err).Warn("skipped unit artifact")
		}
	}
	r.log.WithField("dir", dir).Infof("loaded %d units", len(r.units))
	return nil
}

// load must be called with lock held.
func (r *Registry) load(path string) error {
	artifact, err := r.opener.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	factory, err := artifact.Lookup(unit.FactorySymbol)
	if err != nil {
		return errors.Join(err, artifact.Close())
	}
	u, name, err := construct(factory)
	if err != nil {
		return errors.Join(err, artifact.Close())
	}
	r.artifacts = append(r.artifacts, artifact)
	if prev, ok := r.units[name]; ok {
		r.log.WithField("path", path).WithField("unit", name).Warn("unit overrides previously loaded one")
		if err := release(prev); err != nil {
			r.log.WithField("unit", name).WithField("error", err).Warn("failed to release unit")
		}
	}
	r.units[name] = u
	r.log.WithField("path", path).WithField("unit", name).Debug("loaded unit")
	return nil
}

// construct invokes the factory and reads the descriptor. Panics are
// reported as construction errors.
func construct(factory unit.Factory) (u unit.Unit, name string, err error) {
	defer func() {
		if p := recover(); p != nil {
			u, name, err = nil, "", fmt.Errorf("%w: %v", ErrConstruct, p)
		}
	}()
	if factory == nil {
		return nil, "", fmt.Errorf("%w: nil factory", ErrConstruct)
	}
	if u = factory(); u == nil {
		return nil, "", fmt.Errorf("%w: factory returned nil", ErrConstruct)
	}
	if name = u.Describe().Name; name == "" {
		return nil, "", fmt.Errorf("%w: empty unit name", ErrConstruct)
	}
	return u, name, nil
}

// Unit returns the unit registered under name.
func (r *Registry) Unit(name string) (unit.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return u, nil
}

// Catalog returns a snapshot of descriptors of all loaded units.
func (r *Registry) Catalog() map[string]unit.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := make(map[string]unit.Descriptor, len(r.units))
	for name, u := range r.units {
		c[name] = u.Describe().Copy()
	}
	return c
}

// Names returns sorted names of all loaded units.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload releases everything and loads the directory again.
func (r *Registry) Reload() error {
	if err := r.Close(); err != nil {
		r.log.WithField("error", err).Warn("release before reload")
	}
	return r.Load(r.Dir())
}

// Close releases all units and then closes all artifacts in reverse
// load order. The registry stays usable and can be loaded again.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, u := range r.units {
		if err := release(u); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	r.units = make(map[string]unit.Unit)
	for i := len(r.artifacts) - 1; i >= 0; i-- {
		if err := r.artifacts[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close artifact: %w", err))
		}
	}
	r.artifacts = nil
	return errors.Join(errs...)
}

func release(u unit.Unit) error {
	if c, ok := u.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
