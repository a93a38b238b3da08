// Copyright 2015 Apcera Inc. All rights reserved.

package registry

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
	"github.com/apcera/sysd/unit/parser"
)

func writeUnit(t *testing.T, dir, name, content string) {
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestRegistryLoadAndGet(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Service]
ExecStart=/bin/true
`)

	r := New(parser.SearchPath{dir})

	_, ok := r.Get("a.service")
	TestFalse(t, ok)

	u, err := r.Load("a.service")
	TestExpectSuccess(t, err)
	TestEqual(t, u.Name, "a.service")

	got, ok := r.Get("a.service")
	TestTrue(t, ok)
	TestEqual(t, got, u)
}

func TestRegistryLoadMissing(t *testing.T) {
	dir := TempDir(t)
	r := New(parser.SearchPath{dir})

	u, err := r.Load("missing.service")
	TestExpectError(t, err)
	TestEqual(t, u.Runtime.Load, unit.LoadNotFound)

	// Missing units are still retained so later Get calls see the
	// not-found stub rather than re-attempting the load every time.
	_, ok := r.Get("missing.service")
	TestTrue(t, ok)
}

func TestRegistryReloadAllPicksUpEnablement(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "multi-user.target", "")
	writeUnit(t, dir, "a.service", `
[Service]
ExecStart=/bin/true
`)
	TestExpectSuccess(t, os.MkdirAll(filepath.Join(dir, "multi-user.target.wants"), 0755))
	writeUnit(t, dir, "multi-user.target.wants/a.service", "")

	r := New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	target, ok := r.Get("multi-user.target")
	TestTrue(t, ok)

	found := false
	for _, w := range target.Section.Edges[unit.EdgeWants] {
		if w == "a.service" {
			found = true
		}
	}
	TestTrue(t, found)
}
