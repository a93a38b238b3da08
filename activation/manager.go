// Copyright 2015 Apcera Inc. All rights reserved.

// Package activation implements the three unit kinds supervisor.start
// delegates to its activate hook: socket activation (binding
// Listen*= addresses and handing the fds to the backing service per
// spec.md §6's LISTEN_FDS convention), timers (calendar and monotonic
// triggers per spec.md §4.3's Timer table), and mount units (mount(2)
// with the unit's What/Where/Type/Options). It is the generalization
// of stage1/container_operations.go's launchStage2 fd/env handoff
// shape from a single appc container socket activation path to
// per-unit-kind dispatch.
package activation

import (
	"context"
	"fmt"
	"sync"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/job"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/supervisor"
	"github.com/apcera/sysd/unit"
)

// Manager owns every socket listener and timer goroutine currently
// running, the activation-side analogue of supervisor.Supervisor's own
// services map.
type Manager struct {
	Log *logray.Logger

	reg  *registry.Registry
	jobs *job.Engine
	sup  *supervisor.Supervisor

	// StateDir is where Persistent=yes timers record their last-fire
	// stamp, per spec.md §6's persisted-state layout.
	StateDir string

	mu      sync.Mutex
	sockets map[string]*socketUnit
	timers  map[string]context.CancelFunc
	mounts  map[string]bool
}

// New returns a Manager that starts/stops bound services through jobs
// and sup, and resolves unit definitions through reg. Callers wire the
// result into supervisor.Supervisor.SetActivator via Activate.
func New(reg *registry.Registry, jobs *job.Engine, sup *supervisor.Supervisor) *Manager {
	return &Manager{
		Log:      logray.New(),
		reg:      reg,
		jobs:     jobs,
		sup:      sup,
		StateDir: "/var/lib/sysd/timers",
		sockets:  make(map[string]*socketUnit),
		timers:   make(map[string]context.CancelFunc),
		mounts:   make(map[string]bool),
	}
}

// Activate is the func(ctx, *unit.Unit) error supervisor.Service.start
// calls for KindSocket/KindTimer/KindMount units; its signature matches
// Supervisor.SetActivator exactly.
func (m *Manager) Activate(ctx context.Context, u *unit.Unit) error {
	switch u.Kind {
	case unit.KindSocket:
		return m.activateSocket(ctx, u)
	case unit.KindTimer:
		return m.activateTimer(ctx, u)
	case unit.KindMount:
		return m.activateMount(ctx, u)
	default:
		return fmt.Errorf("activation: unit %s has unsupported kind %s", u.Name, u.Kind)
	}
}

// Deactivate is the func(*unit.Unit) error supervisor.Service.stop
// calls for KindSocket/KindTimer/KindMount units; its signature matches
// Supervisor.SetDeactivator exactly.
func (m *Manager) Deactivate(u *unit.Unit) error {
	switch u.Kind {
	case unit.KindSocket:
		return m.deactivateSocket(u)
	case unit.KindTimer:
		return m.deactivateTimer(u)
	case unit.KindMount:
		return m.deactivateMount(u)
	default:
		return fmt.Errorf("activation: unit %s has unsupported kind %s", u.Name, u.Kind)
	}
}

// startBoundUnit submits and dispatches a start transaction for name
// through the same job.Engine seam control.Server and pid1.Runner use,
// the call every socket/timer trigger makes to actually run the unit
// it activates.
func (m *Manager) startBoundUnit(ctx context.Context, name string) error {
	tx, err := m.jobs.Submit(name, job.ActionStart, job.ModeReplace)
	if err != nil {
		return fmt.Errorf("submitting start for %s: %w", name, err)
	}
	return m.jobs.Dispatch(ctx, tx, m.sup.Act, m.sup.StopAct)
}
