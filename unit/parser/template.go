// Copyright 2015 Apcera Inc. All rights reserved.

package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apcera/sysd/unit"
)

// LoadUnit resolves, loads, merges drop-ins for, and binds the named
// unit, handling template instantiation: "foo@bar.service" first tries
// its own base file, falling back to the template file "foo@.service"
// if no instance-specific override exists.
func LoadUnit(sp SearchPath, name string) (*unit.Unit, error) {
	stem, kind, err := unit.SplitName(name)
	if err != nil {
		return nil, err
	}

	base, instance, isTemplateInstance := resolveInstance(stem)

	loadName := name
	if isTemplateInstance {
		specific := name
		templateName := unit.CanonicalName(base+"@", kind)
		if _, _, err := sp.Load(specific); err == nil {
			loadName = specific
		} else if _, _, err := sp.Load(templateName); err == nil {
			loadName = templateName
		} else {
			return nil, fmt.Errorf("unit %q: %w", name, os.ErrNotExist)
		}
	}

	raw, path, err := sp.Load(loadName)
	if err != nil {
		return nil, fmt.Errorf("unit %q: %w", name, err)
	}
	dropins := sp.DropinPaths(loadName)

	ctx := unit.SpecifierContext{Stem: base, Instance: instance}

	u, err := Bind(name, path, dropins, raw, ctx)
	if err != nil {
		return nil, err
	}
	u.Runtime.Load = unit.LoadLoaded
	return u, nil
}

// LoadFromPath parses a single file directly (no search path, no
// drop-ins), used for transient/generated units such as fstab-derived
// mount units. name is the canonical unit name to assign the result.
func LoadFromPath(name, path string) (*unit.Unit, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := tokenize(path, string(b))
	if err != nil {
		return nil, err
	}
	stem, _, _ := unit.SplitName(name)
	base, instance, _ := resolveInstance(stem)
	u, err := Bind(name, path, nil, raw, unit.SpecifierContext{Stem: base, Instance: instance})
	if err != nil {
		return nil, err
	}
	u.Runtime.Load = unit.LoadLoaded
	return u, nil
}

// Discover walks sp's directories, returning every distinct unit name
// it finds across all roots, deduplicated and without drop-in
// directories or files lacking a recognized kind suffix.
func Discover(sp SearchPath) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, dir := range sp {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasSuffix(e.Name(), ".d") {
				continue
			}
			name := filepath.Base(e.Name())
			if _, _, err := unit.SplitName(name); err != nil {
				continue
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names, nil
}
