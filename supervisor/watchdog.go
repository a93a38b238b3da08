// Copyright 2015 Apcera Inc. All rights reserved.

package supervisor

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// armWatchdog starts the per-service watchdog timer, per spec.md
// §4.3's "Watchdog" paragraph. A no-op if WatchdogSec is unset.
func (svc *Service) armWatchdog() {
	svc.mu.Lock()
	sec := svc.unit.Service.WatchdogSec
	svc.mu.Unlock()
	if sec <= 0 {
		return
	}

	svc.mu.Lock()
	if svc.watchdogTimer != nil {
		svc.watchdogTimer.Stop()
	}
	stop := make(chan struct{})
	svc.watchdogStop = stop
	timer := time.NewTimer(sec)
	svc.watchdogTimer = timer
	svc.mu.Unlock()

	go func() {
		select {
		case <-timer.C:
			svc.onWatchdogExpired()
		case <-stop:
		}
	}()
}

// resetWatchdog is called on a WATCHDOG=1 notify, per spec.md §4.3.
func (svc *Service) resetWatchdog() {
	svc.mu.Lock()
	sec := svc.unit.Service.WatchdogSec
	timer := svc.watchdogTimer
	svc.mu.Unlock()
	if sec <= 0 || timer == nil {
		return
	}
	timer.Reset(sec)
}

// disarmWatchdog stops the timer without firing it, called whenever
// the service leaves active (stop, or exit before restart).
func (svc *Service) disarmWatchdog() {
	svc.mu.Lock()
	if svc.watchdogStop != nil {
		close(svc.watchdogStop)
		svc.watchdogStop = nil
	}
	if svc.watchdogTimer != nil {
		svc.watchdogTimer.Stop()
		svc.watchdogTimer = nil
	}
	svc.mu.Unlock()
}

// onWatchdogExpired transitions the service to failed(watchdog) and
// consults the restart policy exactly as a process exit would, per
// spec.md §4.3: "expiry transitions to failed with result watchdog
// (restart policy consulted)".
func (svc *Service) onWatchdogExpired() {
	svc.fail("watchdog")

	if !svc.unit.Service.ShouldRestart(unit.ExitWatchdog) {
		svc.killUnresponsive()
		return
	}
	if !svc.checkRateLimit() {
		svc.fail("start-limit")
		svc.killUnresponsive()
		return
	}

	svc.killUnresponsive()
	go func() {
		time.Sleep(svc.unit.Service.RestartSec)
		if err := svc.start(context.Background()); err != nil {
			svc.log.Errorf("restarting %s after watchdog expiry: %v", svc.unit.Name, err)
		}
	}()
}

// killUnresponsive force-kills the process a watchdog expiry fired
// against: by definition it is no longer reporting liveness, so there
// is no graceful ExecStop phase. SIGKILL goes to the processes the
// unit's KillMode selects and is repeated until they are gone or 5s
// have passed.
func (svc *Service) killUnresponsive() {
	svc.mu.Lock()
	svc.shuttingDown = true
	mode := unit.KillControlGroup
	if svc.unit.Service != nil {
		mode = svc.unit.Service.KillMode
	}
	svc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for duration := 10 * time.Millisecond; ; duration *= 2 {
		if err := svc.sendSignal(unix.SIGKILL, mode); err != nil {
			svc.log.Warnf("killing unresponsive %s: %v", svc.unit.Name, err)
			return
		}
		if empty, err := svc.stopTargetEmpty(mode); err != nil || empty {
			return
		}
		select {
		case <-ctx.Done():
			svc.log.Warnf("killing unresponsive %s: %v", svc.unit.Name, ctx.Err())
			return
		case <-time.After(duration):
		}
	}
}
