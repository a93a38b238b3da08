// Copyright 2015 Apcera Inc. All rights reserved.

package supervisor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/unit"
)

// notifyReceiver is the shared NOTIFY_SOCKET endpoint, per spec.md
// §4.3's "Notify protocol": a single Unix datagram socket every
// service's NOTIFY_SOCKET env var points at, with the sender's pid
// recovered from SCM_CREDENTIALS ancillary data (SO_PASSCRED), the
// datagram-socket equivalent of SO_PEERCRED on a stream socket.
type notifyReceiver struct {
	path string
	fd   int
	sup  *Supervisor
	log  *logray.Logger
}

func newNotifyReceiver(path string, sup *Supervisor) (*notifyReceiver, error) {
	os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &notifyReceiver{path: path, fd: fd, sup: sup, log: sup.Log.Clone()}, nil
}

// run drains datagrams until the socket is closed. Called once in its
// own goroutine from Supervisor.StartNotifySocket.
func (n *notifyReceiver) run() {
	buf := make([]byte, 4096)
	oob := make([]byte, 512)
	for {
		nr, noob, _, _, err := unix.Recvmsg(n.fd, buf, oob, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			n.log.Errorf("notify socket closed: %v", err)
			return
		}
		pid := peerPID(oob[:noob])
		if pid > 0 {
			n.dispatch(pid, buf[:nr], peerFDs(oob[:noob]))
		}
	}
}

// peerPID extracts the sender pid from a SCM_CREDENTIALS control
// message, or 0 if none was attached.
func peerPID(oob []byte) int {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0
	}
	for _, m := range msgs {
		cred, err := unix.ParseUnixCredentials(&m)
		if err != nil {
			continue
		}
		return int(cred.Pid)
	}
	return 0
}

// peerFDs extracts any fds attached via SCM_RIGHTS, for FDSTORE=1
// datagrams per spec.md §4.3.
func peerFDs(oob []byte) []*os.File {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var files []*os.File
	for _, m := range msgs {
		rights, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		for _, fd := range rights {
			files = append(files, os.NewFile(uintptr(fd), "fdstore"))
		}
	}
	return files
}

// dispatch routes a datagram to the Service whose tracked process set
// includes pid, enforcing NotifyAccess per spec.md §4.3.
func (n *notifyReceiver) dispatch(pid int, data []byte, fds []*os.File) {
	svc, ok := n.sup.byPID(pid)
	if !ok {
		closeFDs(fds)
		return
	}

	svc.mu.Lock()
	access := unit.NotifyMain
	mainPID := svc.unit.Runtime.MainPID
	if svc.unit.Service != nil {
		access = svc.unit.Service.NotifyAccess
	}
	svc.mu.Unlock()

	switch access {
	case unit.NotifyNone:
		closeFDs(fds)
		return
	case unit.NotifyMain:
		if pid != mainPID {
			closeFDs(fds)
			return
		}
	case unit.NotifyExec, unit.NotifyAll:
		// Any pid this unit forked is already scoped correctly by
		// byPID's per-unit tracking table.
	}

	svc.handleNotify(string(data), fds)
}

func closeFDs(fds []*os.File) {
	for _, f := range fds {
		f.Close()
	}
}

// handleNotify applies the key=value lines of a notify datagram, per
// spec.md §4.3's recognized key list.
func (svc *Service) handleNotify(payload string, fds []*os.File) {
	lines := strings.Split(payload, "\n")

	fdName := "stored"
	for _, line := range lines {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok && k == "FDNAME" && v != "" {
			fdName = v
		}
	}

	fdsConsumed := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, _ := strings.Cut(line, "=")
		switch key {
		case "FDSTORE":
			if val == "1" {
				svc.storeFDs(fds, fdName)
				fdsConsumed = true
			}
		case "READY":
			if val == "1" {
				svc.signalReady()
			}
		case "WATCHDOG":
			switch val {
			case "1":
				svc.resetWatchdog()
			case "trigger":
				svc.onWatchdogExpired()
			}
		case "MAINPID":
			if pid, err := strconv.Atoi(val); err == nil {
				svc.mu.Lock()
				svc.unit.Runtime.MainPID = pid
				svc.mu.Unlock()
				svc.sup.trackPID(pid, svc)
			}
		case "STOPPING":
			if val == "1" {
				svc.setState(unit.StateDeactivating, "stop-notify")
			}
		case "STATUS":
			svc.log.Infof("%s: %s", svc.unit.Name, val)
		case "RELOADING":
			if val == "1" {
				svc.setState(unit.StateReloading, "reloading-notify")
			}
		}
		// ERRNO=/BUSERROR= and any other unlisted keys are ignored: they
		// neither change the state machine nor get logged.
	}

	if !fdsConsumed {
		closeFDs(fds)
	}
}

// storeFDs appends fds to the unit's fd store, closing and dropping
// whatever doesn't fit under FileDescriptorStoreMax. name is applied
// to every fd in this batch, matching systemd's one-FDNAME=-per-
// datagram convention.
func (svc *Service) storeFDs(fds []*os.File, name string) {
	max := 0
	if svc.unit.Service != nil {
		max = svc.unit.Service.FileDescriptorStoreMax
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	for _, f := range fds {
		if len(svc.fdStore) >= max {
			f.Close()
			continue
		}
		svc.fdStore = append(svc.fdStore, f)
		svc.fdStoreNames = append(svc.fdStoreNames, name)
	}
}

// signalReady wakes awaitNotifyReady, exactly once per activation.
func (svc *Service) signalReady() {
	svc.mu.Lock()
	if svc.readyCh != nil && !svc.readyClosed {
		svc.readyClosed = true
		close(svc.readyCh)
	}
	svc.mu.Unlock()
}

// awaitNotifyReady blocks until a READY=1 datagram arrives for this
// activation or ctx expires, the Type=notify half of the handshake
// signalReady completes. Per spec.md §8's testable property, a
// TimeoutStartSec expiry before READY=1 is a start failure.
func (svc *Service) awaitNotifyReady(ctx context.Context) error {
	svc.mu.Lock()
	svc.readyCh = make(chan struct{})
	svc.readyClosed = false
	ch := svc.readyCh
	svc.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify readiness timeout for %s", svc.unit.Name)
	}
}
