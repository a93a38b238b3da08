// Copyright 2015 Apcera Inc. All rights reserved.

// Package supervisor implements the per-unit ActiveState/SubState
// machine, per spec.md §4.3: readiness detection by Type=, restart
// policy with rate limiting, the notify-socket receiver, the watchdog
// timer, and KillMode-driven stop sequencing. It is the act callback
// job.Engine.Dispatch calls to actually run a transaction's jobs.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/cgroup"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/sandbox"
	"github.com/apcera/sysd/unit"
)

// Supervisor owns every Service entry that has ever been started, the
// same way stage1/container.Manager owns a map of live Containers.
type Supervisor struct {
	Log *logray.Logger

	reg                *registry.Registry
	resolveDynamicUser sandbox.DynamicUIDResolver
	releaseDynamicUser func(unitName string)

	notify     *notifyReceiver
	activate   func(ctx context.Context, u *unit.Unit) error
	deactivate func(u *unit.Unit) error

	mu       sync.Mutex
	services map[string]*Service // unit name -> entry
	pids     map[int]*Service     // main/exec pid -> owning entry, for the reaper
}

// New returns a Supervisor that resolves units through reg.
// resolveDynamicUser allocates a uid/gid pair for DynamicUser=yes
// services (ordinarily a *dynuser.Table's Allocate method);
// releaseDynamicUser frees it once the service stops (the matching
// Table's Release). The notify socket is created lazily by
// StartNotifySocket since PID 1's runtime directory might not exist
// yet at construction time.
func New(reg *registry.Registry, resolveDynamicUser sandbox.DynamicUIDResolver, releaseDynamicUser func(unitName string)) *Supervisor {
	return &Supervisor{
		Log:                logray.New(),
		reg:                reg,
		resolveDynamicUser: resolveDynamicUser,
		releaseDynamicUser: releaseDynamicUser,
		services:           make(map[string]*Service),
		pids:               make(map[int]*Service),
	}
}

// StartNotifySocket binds the shared NOTIFY_SOCKET receiver at path
// and begins draining datagrams in the background. Call once during
// pid1 bootstrap before any service starts.
func (s *Supervisor) StartNotifySocket(path string) error {
	n, err := newNotifyReceiver(path, s)
	if err != nil {
		return fmt.Errorf("starting notify socket: %w", err)
	}
	s.notify = n
	go n.run()
	return nil
}

// SetActivator wires the activation package's socket/timer/mount
// handling in for the supervisor to call when a unit of one of those
// kinds is started, keeping this package free of an import on
// activation (which itself calls back into the supervisor to start the
// bound service once triggered).
func (s *Supervisor) SetActivator(activate func(ctx context.Context, u *unit.Unit) error) {
	s.activate = activate
}

// SetDeactivator wires the activation package's stop-side counterpart
// to SetActivator: closing a socket's listeners, canceling a timer's
// scheduling loop, or unmounting a mount unit.
func (s *Supervisor) SetDeactivator(deactivate func(u *unit.Unit) error) {
	s.deactivate = deactivate
}

// NotifySocketPath returns the path services should export as
// NOTIFY_SOCKET, or "" if StartNotifySocket was never called.
func (s *Supervisor) NotifySocketPath() string {
	if s.notify == nil {
		return ""
	}
	return s.notify.path
}

// entry returns (creating if necessary) the Service tracking state for
// u, the supervisor's analogue of container.Manager looking up or
// allocating a Container.
func (s *Supervisor) entry(u *unit.Unit) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.services[u.Name]; ok {
		e.unit = u
		return e
	}
	e := newService(s, u)
	s.services[u.Name] = e
	return e
}

// trackPID records pid as belonging to svc so the reaper can route a
// SIGCHLD to the right state machine; untrackPID removes it once the
// process has been reaped.
func (s *Supervisor) trackPID(pid int, svc *Service) {
	s.mu.Lock()
	s.pids[pid] = svc
	s.mu.Unlock()
}

func (s *Supervisor) untrackPID(pid int) {
	s.mu.Lock()
	delete(s.pids, pid)
	s.mu.Unlock()
}

// byPID finds the Service that owns pid, if any. Called from pid1's
// reaper on every SIGCHLD-reaped child.
func (s *Supervisor) byPID(pid int) (*Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.pids[pid]
	return svc, ok
}

// HandleExit is the pid1 reaper's callback for every pid wait4 reaps.
// It is a no-op for pids the supervisor never launched (e.g. a
// double-forked grandchild sysd never tracked).
func (s *Supervisor) HandleExit(pid int, exitCode int, signaled bool, signal int) {
	svc, ok := s.byPID(pid)
	if !ok {
		return
	}
	svc.onProcessExit(exitCode, signaled, signal)
}

// Act starts unitName if it isn't already active, satisfying the
// startAct callback signature job.Engine.Dispatch requires. Dispatch
// calls it for every job whose action is not a stop; stop jobs go to
// the stopAct callback (StopAct).
func (s *Supervisor) Act(ctx context.Context, unitName string) error {
	u, err := s.reg.Load(unitName)
	if err != nil {
		return err
	}
	return s.StartUnit(ctx, u)
}

// StopAct mirrors Act for stop jobs: callers pass both Act and StopAct
// to job.Engine.Dispatch, which calls StopAct for each job whose
// action is a stop, in any kind of transaction.
func (s *Supervisor) StopAct(ctx context.Context, unitName string) error {
	u, err := s.reg.Load(unitName)
	if err != nil {
		return err
	}
	return s.StopUnit(ctx, u)
}

// SetListenFiles attaches socket-activation fds to unitName's entry so
// its next start forwards them to the main ExecStart command as
// LISTEN_FDS, per spec.md §6. Called by the activation package once it
// has bound a socket unit's listeners, before starting the associated
// service.
func (s *Supervisor) SetListenFiles(u *unit.Unit, files []*os.File, names []string) {
	svc := s.entry(u)
	svc.mu.Lock()
	svc.listenFiles = files
	svc.listenNames = names
	svc.mu.Unlock()
}

// StartUnit runs u's start pipeline if it is not already active or
// activating.
func (s *Supervisor) StartUnit(ctx context.Context, u *unit.Unit) error {
	svc := s.entry(u)
	return svc.start(ctx)
}

// StopUnit runs u's KillMode-driven stop sequence.
func (s *Supervisor) StopUnit(ctx context.Context, u *unit.Unit) error {
	svc := s.entry(u)
	return svc.stop(ctx)
}

// Status returns the live runtime state for name, if the supervisor
// has ever touched it.
func (s *Supervisor) Status(name string) (unit.RuntimeState, bool) {
	s.mu.Lock()
	e, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return unit.RuntimeState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unit.Runtime, true
}

// cgroupManagerFor creates (or recovers) the cgroup backing u,
// delegating to the already-built cgroup.NewManager.
func cgroupManagerFor(u *unit.Unit) (*cgroup.Manager, error) {
	return cgroup.NewManager(u.Name, u.Section.Resources)
}
