// Copyright 2015 Apcera Inc. All rights reserved.

package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apcera/sysd/unit"
)

// configDir returns the search path directory enable/disable write
// symlinks into: the first non-transient entry, mirroring systemctl's
// use of /etc/systemd/system over the transient and /run/usr/lib
// tiers that Discover also reads from.
func (r *Registry) configDir() (string, error) {
	for i, dir := range r.searchPath {
		if i == 0 || dir == "" {
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("no persistent unit directory configured")
}

// Enable creates the ".wants"/".requires" symlinks foldEnablementLinks
// discovers on the next ReloadAll, one per WantedBy=/RequiredBy=
// target in name's [Install] section, per spec.md §6's Enable(name).
func (r *Registry) Enable(name string) error {
	u, err := r.Load(name)
	if err != nil {
		return err
	}
	if u.Runtime.Load == unit.LoadNotFound {
		return fmt.Errorf("enable %s: unit not found", name)
	}

	srcPath, _, err := r.searchPath.Load(u.Name)
	if err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}

	dir, err := r.configDir()
	if err != nil {
		return err
	}

	for _, suffix := range []struct {
		dirSuffix string
		targets   []string
	}{
		{".wants", u.Install.WantedBy},
		{".requires", u.Install.RequiredBy},
	} {
		for _, target := range suffix.targets {
			linkDir := filepath.Join(dir, target+suffix.dirSuffix)
			if err := os.MkdirAll(linkDir, 0755); err != nil {
				return fmt.Errorf("enable %s: %w", name, err)
			}
			link := filepath.Join(linkDir, u.Name)
			os.Remove(link)
			if err := os.Symlink(srcPath, link); err != nil {
				return fmt.Errorf("enable %s: %w", name, err)
			}
		}
	}
	return nil
}

// Disable removes every ".wants"/".requires" symlink across the
// search path that points at name, the inverse of Enable.
func (r *Registry) Disable(name string) error {
	u, ok := r.Get(name)
	if !ok {
		var err error
		u, err = r.Load(name)
		if err != nil {
			return err
		}
	}

	removed := false
	for _, dir := range r.searchPath {
		if dir == "" {
			continue
		}
		for _, suffix := range []string{".wants", ".requires"} {
			matches, _ := filepath.Glob(filepath.Join(dir, "*"+suffix, u.Name))
			for _, m := range matches {
				if err := os.Remove(m); err == nil {
					removed = true
				}
			}
		}
	}
	if !removed {
		return fmt.Errorf("disable %s: unit was not enabled", name)
	}
	return nil
}

// IsEnabled reports whether any ".wants"/".requires" symlink across
// the search path currently points at name.
func (r *Registry) IsEnabled(name string) bool {
	u, ok := r.Get(name)
	if !ok {
		return false
	}
	for _, dir := range r.searchPath {
		if dir == "" {
			continue
		}
		for _, suffix := range []string{".wants", ".requires"} {
			matches, _ := filepath.Glob(filepath.Join(dir, "*"+suffix, u.Name))
			if len(matches) > 0 {
				return true
			}
		}
	}
	return false
}
