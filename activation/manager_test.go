// Copyright 2015 Apcera Inc. All rights reserved.

package activation

import (
	"context"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/job"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/supervisor"
	"github.com/apcera/sysd/unit"
	"github.com/apcera/sysd/unit/parser"
)

func newTestManager(t *testing.T) *Manager {
	sp := parser.SearchPath{TempDir(t)}
	reg := registry.New(sp)
	sup := supervisor.New(reg, nil, nil)
	jobs := job.New(reg)
	return New(reg, jobs, sup)
}

func TestActivateRejectsUnsupportedKind(t *testing.T) {
	m := newTestManager(t)
	u := &unit.Unit{Name: "web.service", Kind: unit.KindService}
	TestExpectError(t, m.Activate(context.Background(), u))
}

func TestDeactivateRejectsUnsupportedKind(t *testing.T) {
	m := newTestManager(t)
	u := &unit.Unit{Name: "web.service", Kind: unit.KindService}
	TestExpectError(t, m.Deactivate(u))
}

func TestActivateMountRequiresSection(t *testing.T) {
	m := newTestManager(t)
	u := &unit.Unit{Name: "data.mount", Kind: unit.KindMount}
	TestExpectError(t, m.Activate(context.Background(), u))
}

func TestDeactivateTimerWithoutActivateIsNoop(t *testing.T) {
	m := newTestManager(t)
	u := &unit.Unit{Name: "backup.timer", Kind: unit.KindTimer, Timer: &unit.Timer{}}
	TestExpectSuccess(t, m.Deactivate(u))
}

func TestDeactivateSocketWithoutActivateIsNoop(t *testing.T) {
	m := newTestManager(t)
	u := &unit.Unit{Name: "web.socket", Kind: unit.KindSocket, Socket: &unit.Socket{}}
	TestExpectSuccess(t, m.Deactivate(u))
}
