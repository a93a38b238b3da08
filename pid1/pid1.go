// Copyright 2015 Apcera Inc. All rights reserved.

// Package pid1 is the kernel-facing loop that runs when this process
// is PID 1: essential mounts, the SIGCHLD reaper, signal dispatch, and
// the shutdown sequence, per spec.md §4.8. It is the generalization of
// init.runner's setupFunctions walk to a unit-manager root instead of
// a container host.
package pid1

import (
	"context"
	"path/filepath"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/job"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/supervisor"
)

// bootFunctions runs in order on startup, the same shape as
// init.setupFunctions: each step can fail and abort the boot, except
// that per spec.md §7 PID 1 never exits on error past this point, so
// Run logs and continues rather than returning to a caller that could
// exit(2).
var bootFunctions = []func(*Runner) error{
	(*Runner).mountEssentials,
	(*Runner).mountCgroups,
	(*Runner).startReaper,
	(*Runner).startNotifySocket,
	(*Runner).startSignalHandling,
	(*Runner).startDefaultTarget,
}

// Runner owns the supervised boot-to-shutdown lifecycle, analogous to
// init.runner but driving a Registry/Engine/Supervisor triple instead
// of a single container.Manager.
type Runner struct {
	Log *logray.Logger

	Reg  *registry.Registry
	Jobs *job.Engine
	Sup  *supervisor.Supervisor

	// DefaultTarget is the unit started once boot-time setup finishes,
	// per spec.md §4.2's "default.target" convention.
	DefaultTarget string

	// RuntimeDir is where the shared notify socket and transient unit
	// directory live, per spec.md §6's persisted-state layout.
	RuntimeDir string

	sigCh chan signalEvent
}

// New returns a Runner wired against the given Registry, job Engine
// and Supervisor. Callers (cmd/sysd) are responsible for constructing
// those three and connecting the Engine's Dispatch act callback to
// Sup.Act/Sup.StopAct.
func New(reg *registry.Registry, jobs *job.Engine, sup *supervisor.Supervisor) *Runner {
	return &Runner{
		Log:           logray.New(),
		Reg:           reg,
		Jobs:          jobs,
		Sup:           sup,
		DefaultTarget: "default.target",
		RuntimeDir:    "/run/sysd",
		sigCh:         make(chan signalEvent, 8),
	}
}

// Run takes over the process: boots the system, then blocks dispatching
// signals until a shutdown signal requests the process exit the loop.
// It returns only once shutdown has completed; the caller (cmd/sysd's
// main) is expected to terminate the process immediately afterward,
// mirroring kurma-init.go's main() calling runtime.Goexit() after
// kinit.Run() takes over.
func (r *Runner) Run() error {
	r.Log.Info("Booting\n\n")

	for _, f := range bootFunctions {
		if err := f(r); err != nil {
			r.Log.Errorf("boot step failed: %v", err)
		}
	}

	return r.signalLoop()
}

// startNotifySocket binds the shared NOTIFY_SOCKET endpoint under
// RuntimeDir before any unit starts, so every service's exec
// environment can point at it.
func (r *Runner) startNotifySocket() error {
	return r.Sup.StartNotifySocket(filepath.Join(r.RuntimeDir, "notify"))
}

// startDefaultTarget submits a start transaction for DefaultTarget and
// dispatches it through the job engine, the first real unit of work
// the system performs once the kernel-facing setup above has run.
func (r *Runner) startDefaultTarget() error {
	tx, err := r.Jobs.Submit(r.DefaultTarget, job.ActionStart, job.ModeReplace)
	if err != nil {
		return err
	}
	return r.Jobs.Dispatch(context.Background(), tx, r.Sup.Act, r.Sup.StopAct)
}
