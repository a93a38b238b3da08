// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// startReaper installs the SIGCHLD handler and begins draining reaped
// children in the background, the generalization of
// init.runner.startSignalHandling/handleSIGCHLD: instead of ignoring
// every exit status, each reaped pid is routed to the Supervisor so
// its state machine can classify the exit and consult the restart
// policy.
func (r *Runner) startReaper() error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGCHLD)
	go r.handleSIGCHLD(ch)
	return nil
}

// handleSIGCHLD loops wait4(-1, WNOHANG) on every SIGCHLD until no
// more children are waiting, exactly as init.runner.handleSIGCHLD
// does, but forwarding each reaped pid's exit status to r.Sup instead
// of discarding it.
func (r *Runner) handleSIGCHLD(ch chan os.Signal) {
	for range ch {
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
			if err != nil {
				if err == unix.ECHILD {
					// no children left to wait for
				} else {
					r.Log.Warnf("wait4: %v", err)
				}
				break
			}
			if pid <= 0 {
				break
			}
			r.Sup.HandleExit(pid, ws.ExitStatus(), ws.Signaled(), int(ws.Signal()))
		}
	}
}
