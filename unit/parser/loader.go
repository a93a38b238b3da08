// Copyright 2015 Apcera Inc. All rights reserved.

package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SearchPath is an ordered list of unit directories. The first
// directory that contains the requested base file wins, per
// SPEC_FULL.md §5's load-path precedence; drop-ins are merged across
// every directory in the list.
type SearchPath []string

// DefaultSearchPath returns the root-mode load path in precedence
// order: a transient directory (for runtime-generated units such as
// mount units synthesized from fstab), then /etc, /run, /usr/lib,
// rooted under "systemd/system".
func DefaultSearchPath(transientDir string) SearchPath {
	return SearchPath{
		transientDir,
		"/etc/systemd/system",
		"/run/systemd/system",
		"/usr/lib/systemd/system",
	}
}

// UserSearchPath is DefaultSearchPath's "systemd/user" analogue.
func UserSearchPath(transientDir string) SearchPath {
	return SearchPath{
		transientDir,
		"/etc/systemd/user",
		"/run/systemd/user",
		"/usr/lib/systemd/user",
	}
}

// Load locates, tokenizes, and merges a unit's base file and drop-ins
// across the search path, returning the merged rawFile and the base
// path it was found at. It does not bind the result to a unit.Kind-
// specific struct; callers use Bind for that.
func (sp SearchPath) Load(name string) (rawFile, string, error) {
	var basePath string
	for _, dir := range sp {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			basePath = candidate
			break
		}
	}
	if basePath == "" {
		return nil, "", os.ErrNotExist
	}

	base, err := loadFile(basePath)
	if err != nil {
		return nil, "", err
	}

	dropinDirName := name + ".d"
	var dropinPaths []string
	for _, dir := range sp {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, dropinDirName))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
				continue
			}
			dropinPaths = append(dropinPaths, filepath.Join(dir, dropinDirName, e.Name()))
		}
	}
	sort.Strings(dropinPaths)

	for _, p := range dropinPaths {
		frag, err := loadFile(p)
		if err != nil {
			return nil, "", err
		}
		mergeInto(base, frag)
	}

	return base, basePath, nil
}

// DropinPaths returns the drop-in fragment paths that would be merged
// for name across sp, in application order, without re-parsing them.
// Used by the registry to report Unit.DropIns.
func (sp SearchPath) DropinPaths(name string) []string {
	dropinDirName := name + ".d"
	var paths []string
	for _, dir := range sp {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, dropinDirName))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
				continue
			}
			paths = append(paths, filepath.Join(dir, dropinDirName, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}

func loadFile(path string) (rawFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := tokenize(path, string(b))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// mergeInto folds frag's sections into base in place: list-valued
// directives append (base then fragment, per the drop-in ordering
// example in SPEC_FULL.md §5), and scalar directives are overridden by
// the fragment's last value.
func mergeInto(base, frag rawFile) {
	for sectionName, fragSection := range frag {
		baseSection, ok := base[sectionName]
		if !ok {
			base[sectionName] = fragSection
			continue
		}
		for key, entries := range fragSection {
			if entries == nil {
				// An explicit "Key=" reset in the drop-in clears the
				// base's accumulated value for that key.
				baseSection[key] = nil
				continue
			}
			if spaceSeparatedKeys[key] {
				// renumber fragment entries to sort after base's
				existing := baseSection[key]
				base := 0
				for _, e := range existing {
					if e.order > base {
						base = e.order
					}
				}
				for _, e := range entries {
					baseSection[key] = append(baseSection[key], entry{order: base + 1 + e.order, value: e.value})
				}
			} else {
				// scalar: fragment's value replaces base's
				baseSection[key] = entries
			}
		}
	}
}

// resolveInstance splits a unit stem at its first "@" into the
// template base and the instance. isTemplate is true whenever an "@"
// is present, even if the instance part is empty; the instance is not
// validated here.
func resolveInstance(stem string) (base string, instance string, isTemplate bool) {
	at := strings.Index(stem, "@")
	if at < 0 {
		return stem, "", false
	}
	return stem[:at], stem[at+1:], true
}

// TemplateBaseName returns the template file name for an instantiated
// unit name: "foo@bar.service" maps to "foo@.service". It does not
// look at the search path, so it returns the template name even when
// "foo@bar.service" itself exists; LoadUnit is what checks for that.
func TemplateBaseName(name string) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", fmt.Errorf("unit name %q has no kind suffix", name)
	}
	stem := strings.TrimSuffix(name, ext)
	base, _, isTemplate := resolveInstance(stem)
	if !isTemplate {
		return name, nil
	}
	return base + "@" + ext, nil
}
