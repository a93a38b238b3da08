// Copyright 2015 Apcera Inc. All rights reserved.

package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func writeUnit(t *testing.T, dir, name, content string) {
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadSimpleService(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "echo.service", `
[Unit]
Description=Echo service
After=network.target

[Service]
Type=simple
ExecStart=/bin/echo hello world

[Install]
WantedBy=multi-user.target
`)

	sp := SearchPath{dir}
	u, err := LoadUnit(sp, "echo.service")
	TestExpectSuccess(t, err)

	TestEqual(t, u.Section.Description, "Echo service")
	TestEqual(t, u.Service.Type, unit.TypeSimple)
	TestEqual(t, len(u.Service.ExecStart), 1)
	TestEqual(t, u.Service.ExecStart[0].Path, "/bin/echo")
	TestEqual(t, u.Service.ExecStart[0].Args, []string{"hello", "world"})
	TestEqual(t, u.Install.WantedBy, []string{"multi-user.target"})

	// DefaultDependencies=yes synthesis.
	TestTrue(t, containsString(u.Section.Edges[unit.EdgeAfter], "network.target"))
	TestTrue(t, containsString(u.Section.Edges[unit.EdgeAfter], "basic.target"))
	TestTrue(t, containsString(u.Section.Edges[unit.EdgeBefore], "shutdown.target"))
}

func TestLoadServiceEnvironmentCommaIsLiteral(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "echo.service", `
[Unit]
Description=Echo service

[Service]
Type=simple
ExecStart=/bin/echo hello
Environment=A=1,2 B=3
`)

	sp := SearchPath{dir}
	u, err := LoadUnit(sp, "echo.service")
	TestExpectSuccess(t, err)

	TestEqual(t, u.Service.Environment["A"], "1,2")
	TestEqual(t, u.Service.Environment["B"], "3")
}

func TestLoadDropinMerge(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "echo.service", `
[Unit]
After=A

[Service]
ExecStart=/bin/echo base
`)
	TestExpectSuccess(t, os.MkdirAll(filepath.Join(dir, "echo.service.d"), 0755))
	writeUnit(t, dir, "echo.service.d/10-override.conf", `
[Unit]
After=B
`)

	sp := SearchPath{dir}
	u, err := LoadUnit(sp, "echo.service")
	TestExpectSuccess(t, err)

	TestEqual(t, u.Section.Edges[unit.EdgeAfter][:2], []string{"A", "B"})
	TestEqual(t, len(u.DropIns), 1)
}

func TestLoadTemplateInstance(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "getty@.service", `
[Service]
ExecStart=/sbin/agetty %I
`)

	sp := SearchPath{dir}
	u, err := LoadUnit(sp, "getty@tty1.service")
	TestExpectSuccess(t, err)

	TestEqual(t, u.Instance, "tty1")
	TestEqual(t, u.Service.ExecStart[0].Args, []string{"tty1"})
}

func TestParseDurationGrammar(t *testing.T) {
	cases := map[string]float64{
		"5":      5,
		"5s":     5,
		"500ms":  0.5,
		"2m":     120,
		"1h":     3600,
		"1m 30s": 90,
	}
	for input, wantSeconds := range cases {
		d, err := unit.ParseDuration(input)
		TestExpectSuccess(t, err, input)
		TestEqual(t, d.Seconds(), wantSeconds, input)
	}
}

func TestParseSizeGrammar(t *testing.T) {
	d, err := unit.ParseSize("2M")
	TestExpectSuccess(t, err)
	TestEqual(t, d, int64(2<<20))
}

func TestParseBoolGrammar(t *testing.T) {
	for _, v := range []string{"yes", "true", "1", "on"} {
		b, err := unit.ParseBool(v)
		TestExpectSuccess(t, err)
		TestTrue(t, b)
	}
	for _, v := range []string{"no", "false", "0", "off"} {
		b, err := unit.ParseBool(v)
		TestExpectSuccess(t, err)
		TestFalse(t, b)
	}
}

func TestParseCalendarNamed(t *testing.T) {
	spec, err := ParseCalendar("daily")
	TestExpectSuccess(t, err)
	TestEqual(t, spec.Hours, []int{0})
	TestEqual(t, spec.Minutes, []int{0})
	TestEqual(t, spec.Seconds, []int{0})
}

func TestParseCalendarWeekday(t *testing.T) {
	spec, err := ParseCalendar("Mon *-*-* 00:00:00")
	TestExpectSuccess(t, err)
	TestEqual(t, spec.Weekdays, []time.Weekday{time.Monday})
}

func TestLoadServiceResourceControl(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "capped.service", `
[Unit]
Description=Capped service
Slice=user-1000.slice
CPUQuota=25%
MemoryMax=64M
TasksMax=100

[Service]
ExecStart=/bin/true
`)

	sp := SearchPath{dir}
	u, err := LoadUnit(sp, "capped.service")
	TestExpectSuccess(t, err)

	TestEqual(t, u.Section.Resources.Slice, "user-1000.slice")
	TestEqual(t, u.Section.Resources.CPUQuota, 0.25)
	TestTrue(t, u.Section.Resources.MemoryMax != nil)
	TestEqual(t, *u.Section.Resources.MemoryMax, uint64(64<<20))
	TestTrue(t, u.Section.Resources.TasksMax != nil)
	TestEqual(t, *u.Section.Resources.TasksMax, uint64(100))
}

func TestLoadServiceResourceControlRejectsBadCPUQuota(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "bad.service", `
[Unit]
CPUQuota=25

[Service]
ExecStart=/bin/true
`)

	sp := SearchPath{dir}
	_, err := LoadUnit(sp, "bad.service")
	TestExpectError(t, err)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
