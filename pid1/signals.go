// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/job"
)

// signalEvent is the normalized form of an os.Signal this loop reacts
// to, kept as its own type so signalLoop's switch doesn't need to
// re-derive unix.Signal from the os.Signal interface.
type signalEvent unix.Signal

// startSignalHandling registers the signals spec.md §4.8 names beyond
// SIGCHLD (handled separately by startReaper), forwarding each into
// r.sigCh for signalLoop to process on the single event-loop goroutine,
// per spec.md §5's "only the loop mutates" rule.
func (r *Runner) startSignalHandling() error {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGUSR1, unix.SIGUSR2)
	go func() {
		for sig := range ch {
			// os/signal delivers syscall.Signal values on Linux; unix.Signal
			// shares its underlying int representation, so converting
			// through int is the only portable way to cross the two
			// distinct named types.
			if s, ok := sig.(syscall.Signal); ok {
				r.sigCh <- signalEvent(unix.Signal(int(s)))
			}
		}
	}()
	return nil
}

// signalLoop blocks dispatching signals per spec.md §4.8 until
// shutdown completes.
func (r *Runner) signalLoop() error {
	for ev := range r.sigCh {
		switch unix.Signal(ev) {
		case unix.SIGTERM:
			return r.shutdown(powerOff)
		case unix.SIGINT:
			return r.shutdown(reboot)
		case unix.SIGHUP:
			r.Log.Info("SIGHUP: reloading registry")
			if err := r.Reg.ReloadAll(); err != nil {
				r.Log.Errorf("reload failed: %v", err)
			}
		case unix.SIGUSR1:
			r.dumpState(os.Stdout)
		case unix.SIGUSR2:
			r.dumpStateToFile()
		}
	}
	return nil
}

// RequestShutdown lets other components (the control socket's
// SwitchTarget request against "poweroff.target"/"reboot.target") drive
// the same shutdown path a signal would, per spec.md §6.
func (r *Runner) RequestShutdown(reboot bool) error {
	return r.shutdown(shutdownModeFor(reboot))
}

func shutdownModeFor(rebootRequested bool) shutdownMode {
	if rebootRequested {
		return reboot
	}
	return powerOff
}

// dispatchStop submits and runs a stop transaction for name, the
// seam shutdown uses to stop every unit through the normal job-engine
// path instead of reaching into the supervisor directly.
func (r *Runner) dispatchStop(ctx context.Context, name string) error {
	tx, err := r.Jobs.Submit(name, job.ActionStop, job.ModeReplace)
	if err != nil {
		return err
	}
	return r.Jobs.Dispatch(ctx, tx, r.Sup.Act, r.Sup.StopAct)
}
