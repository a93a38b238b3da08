// Copyright 2015 Apcera Inc. All rights reserved.

package activation

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// socketUnit tracks a bound socket unit's live listeners so Manager
// can close them again if the unit is ever stopped.
type socketUnit struct {
	unit      *unit.Unit
	listeners []net.Listener // stream/sequential-packet only; empty for pure-datagram sockets
	closers   []io.Closer
	cancel    context.CancelFunc
}

// activateSocket binds every Listen*= entry on u, hands the resulting
// fds to the associated service via Supervisor.SetListenFiles, then
// starts that service (or, for Accept=yes, begins accepting
// connections and spawning one transient instance per connection).
// Datagram listeners never go through the accept loop: systemd hands
// them to the service directly, the same way it hands the main
// listening socket to a non-Accept service.
func (m *Manager) activateSocket(ctx context.Context, u *unit.Unit) error {
	sock := u.Socket
	if sock == nil {
		return fmt.Errorf("unit %s has no [Socket] section", u.Name)
	}

	var listeners []net.Listener
	var closers []io.Closer
	files := make([]*os.File, 0, len(sock.Listeners))
	names := make([]string, 0, len(sock.Listeners))
	for i, l := range sock.Listeners {
		f, closer, ln, err := bindListener(l)
		if err != nil {
			closeAll(closers)
			return fmt.Errorf("binding %s listener %d (%s): %w", u.Name, i, l.Address, err)
		}
		closers = append(closers, closer)
		if ln != nil {
			listeners = append(listeners, ln)
		}
		files = append(files, f)
		names = append(names, listenerName(l))
	}

	serviceName := serviceNameFor(u)
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.sockets[u.Name] = &socketUnit{unit: u, listeners: listeners, closers: closers, cancel: cancel}
	m.mu.Unlock()

	if sock.Accept {
		for i, ln := range listeners {
			go m.runAcceptLoop(runCtx, u, ln, names[i])
		}
		return nil
	}

	svc, err := m.reg.Load(serviceName)
	if err != nil {
		closeAll(closers)
		cancel()
		return fmt.Errorf("loading %s's associated service %s: %w", u.Name, serviceName, err)
	}
	m.sup.SetListenFiles(svc, files, names)
	return m.startBoundUnit(ctx, serviceName)
}

// serviceNameFor resolves the unit the socket activates: Socket.Service
// if set, otherwise "<stem>.service" per spec.md §4's socket/service
// pairing convention.
func serviceNameFor(u *unit.Unit) string {
	if u.Socket.Service != "" {
		return u.Socket.Service
	}
	return unit.CanonicalName(u.Stem(), unit.KindService)
}

// bindListener opens l, returning the *os.File duplicate Launcher hands
// across the re-exec boundary as a LISTEN_FDS entry, the io.Closer that
// owns the underlying socket, and (for stream/sequential-packet kinds
// only) the net.Listener an Accept=yes socket loops on.
func bindListener(l unit.Listener) (*os.File, io.Closer, net.Listener, error) {
	if l.Kind == unit.ListenFIFO {
		return bindFIFO(l.Address)
	}
	if l.Kind == unit.ListenDatagram {
		return bindDatagram(l.Address)
	}

	network := "tcp"
	if isUnixAddress(l.Address) {
		network = "unix"
		if l.Kind == unit.ListenSequentialPacket {
			network = "unixpacket"
		}
	}

	ln, err := net.Listen(network, l.Address)
	if err != nil {
		return nil, nil, nil, err
	}

	f, err := fileFromListener(ln)
	if err != nil {
		ln.Close()
		return nil, nil, nil, err
	}
	return f, ln, ln, nil
}

// bindDatagram opens a UDP or Unix datagram socket. It has no
// associated net.Listener: datagram sockets have no accept(2) step,
// so the bound fd is handed straight to the service.
func bindDatagram(address string) (*os.File, io.Closer, net.Listener, error) {
	network := "udp"
	if isUnixAddress(address) {
		network = "unixgram"
	}
	conn, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, nil, nil, err
	}

	var f *os.File
	switch c := conn.(type) {
	case *net.UDPConn:
		f, err = c.File()
	case *net.UnixConn:
		f, err = c.File()
	default:
		err = fmt.Errorf("unsupported packet conn type %T", conn)
	}
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	return f, conn, nil, nil
}

// bindFIFO creates (if necessary) and opens address as a named pipe,
// for the rarely-used ListenFIFO= directive.
func bindFIFO(address string) (*os.File, io.Closer, net.Listener, error) {
	if err := unix.Mkfifo(address, 0660); err != nil && !os.IsExist(err) {
		return nil, nil, nil, fmt.Errorf("mkfifo %s: %w", address, err)
	}
	f, err := os.OpenFile(address, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	return f, f, nil, nil
}

// fileFromListener extracts the duplicated, blocking-mode fd systemd's
// LISTEN_FDS convention expects out of ln.
func fileFromListener(ln net.Listener) (*os.File, error) {
	switch t := ln.(type) {
	case *net.TCPListener:
		return t.File()
	case *net.UnixListener:
		return t.File()
	default:
		return nil, fmt.Errorf("unsupported listener type %T", ln)
	}
}

func isUnixAddress(addr string) bool {
	return strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "@") || strings.HasPrefix(addr, ".")
}

// listenerName builds the LISTEN_FDNAMES entry for l. systemd derives
// names from FileDescriptorName= when set; since that directive isn't
// modeled yet, the address itself is used.
func listenerName(l unit.Listener) string {
	return l.Address
}

// closeAll closes every socket already bound before an error aborts
// activation partway through the listener list.
func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// runAcceptLoop drives an Accept=yes socket: each accepted connection
// starts its own transient "<stem>@N.service" instance with the
// connection's fd as its sole LISTEN_FDS entry, matching systemd's
// per-connection instantiation model.
func (m *Manager) runAcceptLoop(ctx context.Context, u *unit.Unit, ln net.Listener, name string) {
	n := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.Log.Warnf("accepting connection on %s: %v", u.Name, err)
			continue
		}
		n++
		go m.startAcceptedInstance(ctx, u, conn, name, n)
	}
}

func (m *Manager) startAcceptedInstance(ctx context.Context, u *unit.Unit, conn net.Conn, name string, n int) {
	f, err := fileFromConn(conn)
	if err != nil {
		m.Log.Errorf("extracting fd for accepted connection on %s: %v", u.Name, err)
		conn.Close()
		return
	}

	stem := strings.TrimSuffix(serviceNameFor(u), ".service")
	instanceName := fmt.Sprintf("%s@%s.service", stem, strconv.Itoa(n))

	inst, err := m.reg.Load(instanceName)
	if err != nil {
		m.Log.Errorf("loading accepted-connection instance %s: %v", instanceName, err)
		f.Close()
		return
	}

	m.sup.SetListenFiles(inst, []*os.File{f}, []string{name})
	if err := m.startBoundUnit(ctx, instanceName); err != nil {
		m.Log.Errorf("starting accepted-connection instance %s: %v", instanceName, err)
	}
}

// deactivateSocket closes every listener/socket bound for u and drops
// its entry, the stop-side counterpart of activateSocket.
func (m *Manager) deactivateSocket(u *unit.Unit) error {
	m.mu.Lock()
	s, ok := m.sockets[u.Name]
	delete(m.sockets, u.Name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.cancel()
	closeAll(s.closers)
	return nil
}

func fileFromConn(conn net.Conn) (*os.File, error) {
	switch t := conn.(type) {
	case *net.TCPConn:
		return t.File()
	case *net.UnixConn:
		return t.File()
	default:
		return nil, fmt.Errorf("unsupported connection type %T", conn)
	}
}
