// Copyright 2015 Apcera Inc. All rights reserved.

package supervisor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// stop runs the deactivation pipeline: ExecStop, the KillMode signal
// sequence, ExecStopPost, and cgroup teardown, mirroring the shape of
// Container.Stop's containerStopping walk but driven by KillMode
// instead of a fixed function list.
func (svc *Service) stop(ctx context.Context) error {
	svc.mu.Lock()
	active := svc.unit.Runtime.Active
	if active == unit.StateInactive || active == unit.StateFailed {
		svc.mu.Unlock()
		return nil
	}
	svc.shuttingDown = true
	waitch := svc.waitch
	svc.mu.Unlock()

	svc.disarmWatchdog()
	svc.setState(unit.StateDeactivating, "stop-sigterm")

	u := svc.unit
	switch u.Kind {
	case unit.KindTarget, unit.KindSlice, unit.KindScope:
		svc.setState(unit.StateInactive, "dead")
		return nil
	case unit.KindSocket, unit.KindTimer, unit.KindMount:
		var err error
		if svc.sup.deactivate != nil {
			err = svc.sup.deactivate(u)
		}
		svc.setState(unit.StateInactive, "dead")
		return err
	}

	if u.Service != nil {
		if err := svc.runExecList(ctx, u.Service.ExecStop); err != nil {
			svc.log.Warnf("ExecStop for %s: %v", u.Name, err)
		}
	}

	if err := svc.signalStop(ctx); err != nil {
		svc.log.Warnf("stopping %s: %v", u.Name, err)
	}

	if u.Service != nil {
		if err := svc.runExecList(ctx, u.Service.ExecStopPost); err != nil {
			svc.log.Warnf("ExecStopPost for %s: %v", u.Name, err)
		}
	}

	select {
	case <-waitch:
	case <-time.After(2 * time.Second):
		// onProcessExit already ran (race with the reaper) or there was
		// no tracked main process (RemainAfterExit, a oneshot that has
		// already exited); either way nothing left to wait for.
	}

	svc.mu.Lock()
	cg := svc.cg
	svc.mu.Unlock()
	if cg != nil {
		if err := cg.Destroy(); err != nil {
			svc.log.Warnf("destroying cgroup for %s: %v", u.Name, err)
		}
	}

	svc.releaseDynamicUserIfAny()
	svc.setState(unit.StateInactive, "dead")
	return nil
}

// releaseDynamicUserIfAny frees this unit's dynamic uid/gid allocation
// once it is certain no further Exec* command will run under it.
func (svc *Service) releaseDynamicUserIfAny() {
	if svc.sup.releaseDynamicUser == nil {
		return
	}
	svc.mu.Lock()
	dynamic := svc.unit.Service != nil && svc.unit.Service.Identity.DynamicUser
	name := svc.unit.Name
	svc.mu.Unlock()
	if dynamic {
		svc.sup.releaseDynamicUser(name)
	}
}

// signalStop sends the stop signal sequence spec.md §4.3's KillMode
// table describes, retrying SIGKILL with the same exponential backoff
// stoppingCgroups used against the v1 cgroup, here driven off the v2
// cgroup.Manager's Tasks/SignalAll.
func (svc *Service) signalStop(ctx context.Context) error {
	svc.mu.Lock()
	mode := unit.KillControlGroup
	sendHup := false
	timeout := 90 * time.Second
	if svc.unit.Service != nil {
		mode = svc.unit.Service.KillMode
		sendHup = svc.unit.Service.SendSIGHUP
		if svc.unit.Service.TimeoutStopSec > 0 {
			timeout = svc.unit.Service.TimeoutStopSec
		}
	}
	svc.mu.Unlock()

	if mode == unit.KillNone {
		return nil
	}

	if sendHup {
		if err := svc.sendSignal(unix.SIGHUP, mode); err != nil {
			svc.log.Warnf("sending SIGHUP to %s: %v", svc.unit.Name, err)
		}
	}
	if err := svc.sendSignal(unix.SIGTERM, mode); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for duration := 10 * time.Millisecond; ; duration *= 2 {
		empty, err := svc.stopTargetEmpty(mode)
		if err != nil {
			return err
		}
		if empty {
			return nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		if remaining := time.Until(deadline); remaining < duration {
			duration = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(duration):
		}
	}

	// TimeoutStopSec exceeded: escalate to SIGKILL and keep retrying
	// until the target is actually gone, the way stoppingCgroups loops
	// SIGKILL against cgroup.Tasks until empty.
	for duration := 10 * time.Millisecond; ; duration *= 2 {
		if err := svc.sendSignal(unix.SIGKILL, mode); err != nil {
			return fmt.Errorf("sending SIGKILL: %w", err)
		}
		empty, err := svc.stopTargetEmpty(mode)
		if err != nil {
			return err
		}
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(duration):
		}
	}
}

// sendSignal delivers sig per mode: control-group and mixed both reach
// every process in the unit's cgroup (spec.md §4.3 describes mixed as
// "SIGTERM to all, SIGKILL on timeout to all", identical to
// control-group's own rule); process reaches only the main PID.
func (svc *Service) sendSignal(sig unix.Signal, mode unit.KillMode) error {
	svc.mu.Lock()
	cg := svc.cg
	mainPID := svc.unit.Runtime.MainPID
	svc.mu.Unlock()

	switch mode {
	case unit.KillControlGroup, unit.KillMixed:
		if cg == nil {
			return nil
		}
		_, err := cg.SignalAll(sig)
		return err
	case unit.KillProcess:
		if mainPID == 0 {
			return nil
		}
		err := unix.Kill(mainPID, sig)
		if err == unix.ESRCH {
			return nil
		}
		return err
	default:
		return nil
	}
}

// stopTargetEmpty reports whether the stop target (cgroup or main
// process, per mode) has no processes left.
func (svc *Service) stopTargetEmpty(mode unit.KillMode) (bool, error) {
	svc.mu.Lock()
	cg := svc.cg
	mainPID := svc.unit.Runtime.MainPID
	svc.mu.Unlock()

	switch mode {
	case unit.KillControlGroup, unit.KillMixed:
		if cg == nil {
			return true, nil
		}
		tasks, err := cg.Tasks()
		if err != nil {
			return false, err
		}
		return len(tasks) == 0, nil
	case unit.KillProcess:
		if mainPID == 0 {
			return true, nil
		}
		err := unix.Kill(mainPID, 0)
		if err == nil {
			return false, nil
		}
		if err == unix.ESRCH {
			return true, nil
		}
		return false, err
	default:
		return true, nil
	}
}
