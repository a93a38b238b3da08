// Copyright 2015 Apcera Inc. All rights reserved.

package registry

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit/parser"
)

func newEnableFixture(t *testing.T) (*Registry, string) {
	transient := TempDir(t)
	etc := TempDir(t)
	TestExpectSuccess(t, os.WriteFile(filepath.Join(etc, "web.service"), []byte(`
[Unit]
Description=web

[Service]
ExecStart=/bin/true

[Install]
WantedBy=multi-user.target
`), 0644))

	r := New(parser.SearchPath{transient, etc})
	return r, etc
}

func TestEnableCreatesWantsSymlink(t *testing.T) {
	r, etc := newEnableFixture(t)
	TestExpectSuccess(t, r.Enable("web.service"))

	link := filepath.Join(etc, "multi-user.target.wants", "web.service")
	_, err := os.Lstat(link)
	TestExpectSuccess(t, err)
	TestTrue(t, r.IsEnabled("web.service"))
}

func TestDisableRemovesWantsSymlink(t *testing.T) {
	r, _ := newEnableFixture(t)
	TestExpectSuccess(t, r.Enable("web.service"))
	TestExpectSuccess(t, r.Disable("web.service"))
	TestFalse(t, r.IsEnabled("web.service"))
}

func TestDisableWithoutEnableErrors(t *testing.T) {
	r, _ := newEnableFixture(t)
	_, err := r.Load("web.service")
	TestExpectSuccess(t, err)
	TestExpectError(t, r.Disable("web.service"))
}

func TestIsEnabledFalseForUnknownUnit(t *testing.T) {
	r, _ := newEnableFixture(t)
	TestFalse(t, r.IsEnabled("nonexistent.service"))
}
