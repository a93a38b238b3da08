// Copyright 2015 Apcera Inc. All rights reserved.

// Package registry maintains the in-memory catalog of loaded units,
// keyed by canonical name, with alias indirection and directory-based
// reload, per spec.md §4.2.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/unit"
	"github.com/apcera/sysd/unit/parser"
)

// Registry holds every unit that has been loaded, either because it
// was referenced by a job or discovered during a full scan.
type Registry struct {
	Log *logray.Logger

	searchPath parser.SearchPath

	mu      sync.RWMutex
	units   map[string]*unit.Unit
	aliases map[string]string // alias name -> canonical name
}

// New creates an empty Registry that resolves unit files across sp.
func New(sp parser.SearchPath) *Registry {
	return &Registry{
		Log:        logray.New(),
		searchPath: sp,
		units:      make(map[string]*unit.Unit),
		aliases:    make(map[string]string),
	}
}

// canonical resolves a possibly-aliased name to the name a unit is
// actually stored under.
func (r *Registry) canonical(name string) string {
	if real, ok := r.aliases[name]; ok {
		return real
	}
	return name
}

// Load returns the named unit, parsing it from the search path if it
// is not already in the catalog. A unit stays in the catalog across
// an inactive state so enablement info survives; only ReloadAll
// discards and re-derives entries.
func (r *Registry) Load(name string) (*unit.Unit, error) {
	r.mu.RLock()
	if u, ok := r.units[r.canonical(name)]; ok {
		r.mu.RUnlock()
		return u, nil
	}
	r.mu.RUnlock()

	u, err := parser.LoadUnit(r.searchPath, name)
	if err != nil {
		stub := &unit.Unit{Name: name, Runtime: unit.RuntimeState{Load: unit.LoadNotFound}}
		if _, kind, splitErr := unit.SplitName(name); splitErr == nil {
			stub.Kind = kind
		}
		r.mu.Lock()
		r.units[name] = stub
		r.mu.Unlock()
		return stub, fmt.Errorf("load %q: %w", name, err)
	}

	r.mu.Lock()
	r.store(u)
	r.mu.Unlock()
	return u, nil
}

// store inserts u into the catalog under its canonical name and
// registers its aliases. Callers must hold r.mu for writing.
func (r *Registry) store(u *unit.Unit) {
	r.units[u.Name] = u
	for _, a := range u.Install.Alias {
		r.aliases[a] = u.Name
	}
	for _, a := range u.Aliases {
		r.aliases[a] = u.Name
	}
}

// Get returns a unit already in the catalog without attempting to
// load it, reporting ok=false if it has never been referenced.
func (r *Registry) Get(name string) (*unit.Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[r.canonical(name)]
	return u, ok
}

// List returns every unit currently in the catalog, in no particular
// order.
func (r *Registry) List() []*unit.Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*unit.Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	return out
}

// ReloadAll re-parses every unit file discoverable on the search path
// plus every unit already in the catalog, replacing the catalog
// wholesale. In-flight jobs hold their own *unit.Unit reference from
// before the reload and complete against it; only units looked up
// afterward see the new definitions, per spec.md §3 "Lifecycle".
func (r *Registry) ReloadAll() error {
	discovered, err := parser.Discover(r.searchPath)
	if err != nil {
		return err
	}

	r.mu.RLock()
	for name := range r.units {
		discovered = appendIfMissing(discovered, name)
	}
	r.mu.RUnlock()

	next := make(map[string]*unit.Unit, len(discovered))
	nextAliases := make(map[string]string)

	for _, name := range discovered {
		u, err := parser.LoadUnit(r.searchPath, name)
		if err != nil {
			next[name] = &unit.Unit{Name: name, Runtime: unit.RuntimeState{Load: unit.LoadNotFound}}
			r.Log.Errorf("registry: reload %q: %v", name, err)
			continue
		}
		next[u.Name] = u
		for _, a := range u.Install.Alias {
			nextAliases[a] = u.Name
		}
	}

	if err := r.foldEnablementLinks(next, nextAliases); err != nil {
		r.Log.Errorf("registry: enablement scan: %v", err)
	}

	r.mu.Lock()
	r.units = next
	r.aliases = nextAliases
	r.mu.Unlock()
	return nil
}

// foldEnablementLinks discovers "<target>.wants/" and
// "<target>.requires/" directories across the search path and records
// their member units as Wants/Requires edges on the target, per
// spec.md §2 and SPEC_FULL.md §6.
func (r *Registry) foldEnablementLinks(units map[string]*unit.Unit, aliases map[string]string) error {
	for _, target := range units {
		for _, suffix := range []struct {
			dirSuffix string
			edge      unit.EdgeKind
		}{
			{".wants", unit.EdgeWants},
			{".requires", unit.EdgeRequires},
		} {
			for _, dir := range r.searchPath {
				if dir == "" {
					continue
				}
				linkDir := filepath.Join(dir, target.Name+suffix.dirSuffix)
				entries, err := os.ReadDir(linkDir)
				if err != nil {
					continue
				}
				for _, e := range entries {
					memberName := e.Name()
					if memberName == target.Name {
						continue
					}
					already := false
					for _, existing := range target.Section.Edges[suffix.edge] {
						if existing == memberName {
							already = true
							break
						}
					}
					if !already {
						target.Section.Edges[suffix.edge] = append(target.Section.Edges[suffix.edge], memberName)
					}
				}
			}
		}
	}
	_ = aliases
	return nil
}

func appendIfMissing(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}
