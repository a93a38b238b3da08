// Copyright 2015 Apcera Inc. All rights reserved.

package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apcera/logray"
	"github.com/apcera/util/envmap"

	"github.com/apcera/sysd/cgroup"
	"github.com/apcera/sysd/condition"
	"github.com/apcera/sysd/sandbox"
	"github.com/apcera/sysd/unit"
)

// Service is a single unit's live runtime entry: its cgroup, its main
// process handle, and the mutex-guarded ActiveState the way
// stage1/container.Container guards its own state field. waitch plays
// the same role as Container.waitch: closed exactly once, when the
// unit reaches a terminal state for this activation.
type Service struct {
	sup  *Supervisor
	log  *logray.Logger
	unit *unit.Unit

	mu      sync.Mutex
	cg      *cgroup.Manager
	process *os.Process
	ptyMaster *os.File
	waitch  chan struct{}

	shuttingDown bool

	readyCh     chan struct{}
	readyClosed bool

	// listenFiles/listenNames carry socket-activation fds the
	// activation package bound on this unit's behalf, handed to the
	// main ExecStart command only, per spec.md §6's LISTEN_FDS.
	listenFiles []*os.File
	listenNames []string

	// fdStore/fdStoreNames hold fds a service handed off via
	// FDSTORE=1/SCM_RIGHTS on the notify socket, per spec.md §4.3's
	// FileDescriptorStoreMax. Capped at unit.Service.FileDescriptorStoreMax;
	// additional fds past the cap are closed and dropped.
	fdStore      []*os.File
	fdStoreNames []string

	watchdogTimer *time.Timer
	watchdogStop  chan struct{}
}

func newService(sup *Supervisor, u *unit.Unit) *Service {
	return &Service{
		sup:    sup,
		log:    sup.Log.Clone(),
		unit:   u,
		waitch: make(chan struct{}),
	}
}

func (svc *Service) setState(active unit.ActiveState, sub string) {
	svc.mu.Lock()
	svc.unit.Runtime.Active = active
	svc.unit.Runtime.Sub = sub
	svc.mu.Unlock()
}

func (svc *Service) fail(reason string) {
	svc.mu.Lock()
	svc.unit.Runtime.Active = unit.StateFailed
	svc.unit.Runtime.Sub = "failed"
	svc.unit.Runtime.FailureReason = reason
	svc.mu.Unlock()
}

// start runs u's activation pipeline: condition evaluation,
// ExecStartPre, the Type-specific fork+readiness sequence, and
// ExecStartPost, the way Container.start walks containerStartup.
func (svc *Service) start(ctx context.Context) error {
	svc.mu.Lock()
	if svc.unit.Runtime.Active == unit.StateActive || svc.unit.Runtime.Active == unit.StateActivating {
		svc.mu.Unlock()
		return nil
	}
	svc.shuttingDown = false
	svc.mu.Unlock()

	u := svc.unit

	if res := condition.Evaluate(u); !res.OK() {
		if res.Failed.Assert {
			svc.fail("assert")
			return fmt.Errorf("unit %s: %s", u.Name, res.Reason)
		}
		svc.setState(unit.StateInactive, "dead")
		u.Runtime.FailureReason = "condition"
		return nil
	}

	switch u.Kind {
	case unit.KindTarget, unit.KindSlice, unit.KindScope:
		// No process of their own: reaching this point (conditions
		// passed) means they are immediately active, the way
		// RemainAfterExit=yes oneshot units behave.
		svc.setState(unit.StateActive, "active")
		return nil
	case unit.KindSocket, unit.KindTimer, unit.KindMount:
		if svc.sup.activate == nil {
			svc.fail("exec-setup")
			return fmt.Errorf("unit %s: no activation handler wired for kind %s", u.Name, u.Kind)
		}
		svc.setState(unit.StateActivating, "start-pre")
		if err := svc.sup.activate(ctx, u); err != nil {
			svc.fail(classifyStartFailure(ctx))
			return err
		}
		svc.setState(unit.StateActive, activeSubStateFor(u.Kind))
		return nil
	}

	if u.Service == nil {
		return fmt.Errorf("unit %s has no [Service] section", u.Name)
	}

	svc.setState(unit.StateActivating, "start-pre")

	if !svc.checkRateLimit() {
		svc.fail("start-limit")
		return fmt.Errorf("unit %s: start-limit-hit", u.Name)
	}

	cg, err := cgroupManagerFor(u)
	if err != nil {
		svc.fail("resources")
		return fmt.Errorf("creating cgroup for %s: %w", u.Name, err)
	}
	svc.mu.Lock()
	svc.cg = cg
	svc.unit.Runtime.CgroupPath = cg.Path()
	svc.mu.Unlock()

	if err := svc.runExecList(ctx, u.Service.ExecStartPre); err != nil {
		svc.fail("exec-setup")
		return fmt.Errorf("ExecStartPre for %s: %w", u.Name, err)
	}

	startCtx := ctx
	var cancel context.CancelFunc
	if u.Service.TimeoutStartSec > 0 {
		startCtx, cancel = context.WithTimeout(ctx, u.Service.TimeoutStartSec)
		defer cancel()
	}

	switch u.Service.Type {
	case unit.TypeOneshot:
		if err := svc.runOneshot(startCtx); err != nil {
			svc.fail("exit-code")
			return err
		}
	default:
		if err := svc.runAndAwaitReady(startCtx); err != nil {
			svc.fail(classifyStartFailure(startCtx))
			return err
		}
	}

	if err := svc.runExecList(ctx, u.Service.ExecStartPost); err != nil {
		svc.log.Warnf("ExecStartPost for %s failed: %v", u.Name, err)
	}

	if u.Service.Type == unit.TypeOneshot {
		if u.Service.RemainAfterExit {
			svc.setState(unit.StateActive, "exited")
		} else {
			svc.setState(unit.StateInactive, "dead")
		}
	} else {
		svc.setState(unit.StateActive, "running")
		svc.armWatchdog()
	}
	return nil
}

// activeSubStateFor names the SubState a non-service unit reports once
// its activation hook succeeds, matching systemd's per-kind vocabulary
// ("listening" for sockets, "waiting" for timers, "mounted" for mounts).
func activeSubStateFor(kind unit.Kind) string {
	switch kind {
	case unit.KindSocket:
		return "listening"
	case unit.KindTimer:
		return "waiting"
	case unit.KindMount:
		return "mounted"
	default:
		return "active"
	}
}

func classifyStartFailure(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout"
	}
	return "exec-setup"
}

// runOneshot executes every ExecStart command sequentially, aborting
// at the first non-ignorable failure, per spec.md §4.3's oneshot rule.
func (svc *Service) runOneshot(ctx context.Context) error {
	return svc.runExecList(ctx, svc.unit.Service.ExecStart)
}

// runAndAwaitReady forks the (first, for simple/notify/forking/dbus/
// idle types there is exactly one meaningful) ExecStart command and
// blocks until the Type-specific readiness condition is met.
func (svc *Service) runAndAwaitReady(ctx context.Context) error {
	u := svc.unit
	if len(u.Service.ExecStart) == 0 {
		return fmt.Errorf("unit %s has no ExecStart", u.Name)
	}
	cmd := u.Service.ExecStart[0]

	proc, ptyMaster, err := svc.fork(cmd, true)
	if err != nil {
		return err
	}
	svc.mu.Lock()
	svc.process = proc
	svc.ptyMaster = ptyMaster
	svc.unit.Runtime.MainPID = proc.Pid
	svc.mu.Unlock()
	svc.sup.trackPID(proc.Pid, svc)

	switch u.Service.Type {
	case unit.TypeSimple:
		return nil
	case unit.TypeIdle:
		// Simplification: spec.md's "delayed until job queue idle or 5s
		// elapse" assumes a queue-depth signal the supervisor doesn't
		// expose; approximated as a flat delay before reporting ready.
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil
	case unit.TypeForking:
		return svc.awaitForkingReady(ctx, proc)
	case unit.TypeNotify, unit.TypeNotifyReload, unit.TypeDBus:
		// dbus readiness (BusName appearing on the broker) has no
		// broker in this build; approximated by the same READY=1
		// notify-socket wait as Type=notify, documented as a gap since
		// no D-Bus implementation is wired into the supervisor.
		return svc.awaitNotifyReady(ctx)
	default:
		return nil
	}
}

// awaitForkingReady waits for the forked process to exit 0, then polls
// PIDFile until it appears (or ctx expires), per spec.md §4.3.
func (svc *Service) awaitForkingReady(ctx context.Context, proc *os.Process) error {
	state, err := proc.Wait()
	svc.sup.untrackPID(proc.Pid)
	if err != nil {
		return fmt.Errorf("waiting for forking process: %w", err)
	}
	if !state.Success() {
		return fmt.Errorf("forking process exited %v", state)
	}

	pidFile := svc.unit.Service.PIDFile
	if pidFile == "" {
		return fmt.Errorf("Type=forking requires PIDFile")
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if pid, err := readPIDFile(pidFile); err == nil {
			svc.mu.Lock()
			svc.unit.Runtime.MainPID = pid
			svc.mu.Unlock()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for PIDFile %s", pidFile)
		case <-ticker.C:
		}
	}
}

func readPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(b), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// fork builds the sandbox Config for cmd and launches it via
// sandbox.Launcher, the supervisor's only caller of the sandbox
// package. passListenFDs is true only for the main ExecStart command:
// ExecStartPre/Post/Stop commands never see the unit's activation fds.
func (svc *Service) fork(cmd unit.ExecCommand, passListenFDs bool) (*os.Process, *os.File, error) {
	u := svc.unit
	cfg, err := sandbox.BuildConfig(u.Name, u.Service, cmd, svc.cg.Path(), svc.sup.resolveDynamicUser)
	if err != nil {
		return nil, nil, err
	}
	cfg.Environment = append(cfg.Environment, svc.execEnvironment()...)

	l := &sandbox.Launcher{AllocatePTY: sandbox.NeedsPTY(u.Service.StdinTarget, u.Service.StdoutTarget, u.Service.StderrTarget)}
	if passListenFDs {
		svc.mu.Lock()
		l.ListenFiles = svc.listenFiles
		l.ListenFDNames = svc.listenNames
		svc.mu.Unlock()
	}
	proc, ptyMaster, err := l.Launch(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := svc.cg.AddProcess(proc.Pid); err != nil {
		svc.log.Warnf("adding pid %d to cgroup for %s: %v", proc.Pid, u.Name, err)
	}
	return proc, ptyMaster, nil
}

// execEnvironment builds the NOTIFY_SOCKET/WATCHDOG_USEC additions
// layered on top of the unit's own Environment= block, via envmap the
// way container_operations.go's startingEnvironment does.
func (svc *Service) execEnvironment() []string {
	env := envmap.NewEnvMap()
	if p := svc.sup.NotifySocketPath(); p != "" && svc.unit.Service.NotifyAccess != unit.NotifyNone {
		env.Set("NOTIFY_SOCKET", p)
	}
	if svc.unit.Service.WatchdogSec > 0 {
		env.Set("WATCHDOG_USEC", fmt.Sprintf("%d", svc.unit.Service.WatchdogSec.Microseconds()))
	}
	return env.Strings()
}

// runExecList runs each command in list sequentially, re-resolving the
// sandbox per command (ExecStartPre/Post/Stop commands run outside the
// main process's cgroup-joined lifetime but still under the unit's
// identity/sandbox directives). A leading "-" (IgnoreFailure) makes a
// non-zero exit non-fatal.
func (svc *Service) runExecList(ctx context.Context, list []unit.ExecCommand) error {
	for _, cmd := range list {
		proc, _, err := svc.fork(cmd, false)
		if err != nil {
			if cmd.IgnoreFailure {
				continue
			}
			return err
		}
		svc.sup.trackPID(proc.Pid, svc)
		state, err := proc.Wait()
		svc.sup.untrackPID(proc.Pid)
		if err != nil {
			if cmd.IgnoreFailure {
				continue
			}
			return err
		}
		if !state.Success() && !cmd.IgnoreFailure {
			return fmt.Errorf("command %s exited %v", cmd.Path, state)
		}
	}
	return nil
}

// onProcessExit is the supervisor's reaper callback for this
// service's main process. It classifies the exit, decides whether to
// restart per spec.md §4.3's table, and updates runtime state.
func (svc *Service) onProcessExit(exitCode int, signaled bool, sig int) {
	svc.sup.untrackPID(svc.mainPID())
	svc.disarmWatchdog()

	svc.mu.Lock()
	wasShuttingDown := svc.shuttingDown
	svc.unit.Runtime.LastExitCode = exitCode
	if signaled {
		svc.unit.Runtime.LastExitSignal = sig
	} else {
		svc.unit.Runtime.LastExitSignal = 0
	}
	preventStatuses := svc.unit.Service.RestartPreventExitStatus
	close(svc.waitch)
	svc.waitch = make(chan struct{})
	svc.mu.Unlock()

	if wasShuttingDown {
		svc.releaseDynamicUserIfAny()
		svc.setState(unit.StateInactive, "dead")
		return
	}

	for _, s := range preventStatuses {
		if s == exitCode && !signaled {
			svc.releaseDynamicUserIfAny()
			svc.setState(unit.StateInactive, "dead")
			return
		}
	}

	class := classifyExit(exitCode, signaled)
	shouldRestart := svc.unit.Service.ShouldRestart(class)

	if !shouldRestart {
		svc.releaseDynamicUserIfAny()
		if class == unit.ExitClean {
			svc.setState(unit.StateInactive, "dead")
		} else {
			svc.fail(string(class))
		}
		return
	}

	if !svc.checkRateLimit() {
		svc.fail("start-limit")
		return
	}

	svc.setState(unit.StateDeactivating, "restart-sec")
	go func() {
		time.Sleep(svc.unit.Service.RestartSec)
		if err := svc.start(context.Background()); err != nil {
			svc.log.Errorf("restarting %s: %v", svc.unit.Name, err)
		}
	}()
}

func (svc *Service) mainPID() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.unit.Runtime.MainPID
}

// classifyExit maps a raw exit outcome to the ExitClass vocabulary
// Service.ShouldRestart consumes.
func classifyExit(exitCode int, signaled bool) unit.ExitClass {
	switch {
	case signaled:
		return unit.ExitSignal
	case exitCode == 0:
		return unit.ExitClean
	default:
		return unit.ExitNonZero
	}
}
