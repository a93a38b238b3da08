// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/unit/parser"
)

func TestDumpStateListsLoadedUnits(t *testing.T) {
	dir := TempDir(t)
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, "web.service"), []byte(`
[Service]
ExecStart=/bin/true
`), 0644))

	reg := registry.New(parser.SearchPath{dir})
	_, err := reg.Load("web.service")
	TestExpectSuccess(t, err)

	r := &Runner{Log: logray.New(), Reg: reg}

	var buf bytes.Buffer
	r.dumpState(&buf)
	TestMatch(t, buf.String(), regexp.MustCompile("web.service"))
}
