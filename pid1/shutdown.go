// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// shutdownMode selects the reboot(2) command issued once every unit
// has stopped, per spec.md §8's end-to-end shutdown scenario.
type shutdownMode int

const (
	powerOff shutdownMode = iota
	reboot
)

// shutdown runs spec.md §8 scenario 5: stop every loaded unit (SIGTERM
// now, SIGKILL if still running once the budget elapses), sync(2),
// unmount non-essential filesystems, then reboot(2). Failures before
// the reboot(2) call are logged and do not abort the sequence; the
// only error shutdown returns is reboot(2)'s own.
func (r *Runner) shutdown(mode shutdownMode) error {
	r.Log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.stopEverything(ctx)

	unix.Sync()

	r.unmountNonEssential()

	cmd := unix.LINUX_REBOOT_CMD_POWER_OFF
	if mode == reboot {
		cmd = unix.LINUX_REBOOT_CMD_RESTART
	}
	if err := unix.Reboot(cmd); err != nil {
		r.Log.Errorf("reboot(2) failed: %v", err)
		return err
	}
	return nil
}

// stopEverything fans a stop job out to every unit the registry knows
// about concurrently, the bulk-isolate shape job.ModeIsolate's
// IsolateStopSet computes for a single target generalized to "stop
// everything". Each unit's own Service.stop still runs its configured
// KillMode/TimeoutStopSec escalation; ctx's 5s budget bounds how long
// this sweep waits for stragglers. Once it elapses, every remaining
// process except PID 1 itself gets SIGKILL through kill(-1), and
// shutdown moves on to sync+reboot.
func (r *Runner) stopEverything(ctx context.Context) {
	units := r.Reg.List()

	var wg sync.WaitGroup
	for _, u := range units {
		if u.Runtime.Active != unit.StateActive {
			continue
		}
		name := u.Name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.dispatchStop(ctx, name); err != nil {
				r.Log.Warnf("stopping %s during shutdown: %v", name, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.Log.Warn("shutdown budget exceeded with units still stopping")
		if err := unix.Kill(-1, unix.SIGKILL); err != nil {
			r.Log.Warnf("kill(-1, SIGKILL): %v", err)
		}
	}
}
