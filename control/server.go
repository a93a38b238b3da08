// Copyright 2015 Apcera Inc. All rights reserved.

package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/job"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/resolver"
	"github.com/apcera/sysd/supervisor"
	"github.com/apcera/sysd/unit"
	"github.com/apcera/sysd/unit/parser"
)

// mutatingRequests lists the request kinds that change unit or boot
// state rather than just reading it; only uid 0 may issue them, per
// spec.md §6's "Peer credentials via SO_PEERCRED authenticate
// requests".
var mutatingRequests = map[RequestKind]bool{
	ReqStart:        true,
	ReqStop:         true,
	ReqRestart:      true,
	ReqReload:       true,
	ReqEnable:       true,
	ReqDisable:      true,
	ReqSwitchTarget: true,
}

// Server accepts connections on a Unix stream socket and answers
// Request frames by driving the registry, job engine and supervisor,
// per spec.md §6's control socket surface.
type Server struct {
	Log *logray.Logger

	Path string

	Reg  *registry.Registry
	Jobs *job.Engine
	Sup  *supervisor.Supervisor

	BootTarget string

	// Shutdown, if set, lets SwitchTarget against "poweroff.target" or
	// "reboot.target" drive pid1.Runner.RequestShutdown instead of just
	// recording BootTarget, per spec.md §6. Left nil outside a pid1
	// process, where there is nothing meaningful to shut down.
	Shutdown func(reboot bool) error

	listener net.Listener
}

// New returns a Server listening at path once Serve is called.
func New(path string, reg *registry.Registry, jobs *job.Engine, sup *supervisor.Supervisor, bootTarget string) *Server {
	return &Server{
		Log:        logray.New(),
		Path:       path,
		Reg:        reg,
		Jobs:       jobs,
		Sup:        sup,
		BootTarget: bootTarget,
	}
}

// Serve binds the control socket and accepts connections until ctx is
// canceled, per spec.md §6's "Unix stream at /run/<name>.sock".
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.Path)
	l, err := net.Listen("unix", s.Path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.Path, err)
	}
	s.listener = l
	if err := os.Chmod(s.Path, 0660); err != nil {
		s.Log.Warnf("control: chmod %s: %v", s.Path, err)
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	cred, err := peerCredentials(uc)
	if err != nil {
		s.Log.Warnf("control: reading peer credentials: %v", err)
		return
	}

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			return
		}
		resp := s.dispatch(ctx, &req, cred)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

// peerCredentials authenticates the connecting client via SO_PEERCRED,
// which is well-defined on a connected Unix stream socket, unlike the
// notify socket's datagram SCM_CREDENTIALS handshake.
func peerCredentials(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, sockErr
}

// dispatch answers a single Request. Every case is synchronous except
// Start/Stop/Restart, which submit a transaction and dispatch it
// against the supervisor before replying, so the reply always reflects
// the job's terminal result (spec.md §4.6's "job" model, not
// fire-and-forget).
func (s *Server) dispatch(ctx context.Context, req *Request, cred *unix.Ucred) *Response {
	if mutatingRequests[req.Kind] && cred != nil && cred.Uid != 0 {
		return Errorf("permission-denied", "uid %d may not issue %s", cred.Uid, req.Kind)
	}

	switch req.Kind {
	case ReqPing:
		return &Response{Kind: RespOk}

	case ReqList:
		return s.handleList(req.Filter)

	case ReqStatus:
		return s.handleStatus(req.Name)

	case ReqStart, ReqStop, ReqRestart:
		return s.handleJob(ctx, req)

	case ReqReload:
		if err := s.Reg.ReloadAll(); err != nil {
			return Errorf("reload-failed", "%v", err)
		}
		return &Response{Kind: RespOk}

	case ReqEnable:
		if err := s.Reg.Enable(req.Name); err != nil {
			return Errorf("enable-failed", "%v", err)
		}
		return &Response{Kind: RespOk}

	case ReqDisable:
		if err := s.Reg.Disable(req.Name); err != nil {
			return Errorf("disable-failed", "%v", err)
		}
		return &Response{Kind: RespOk}

	case ReqIsEnabled:
		if s.Reg.IsEnabled(req.Name) {
			return &Response{Kind: RespOk}
		}
		return Errorf("not-enabled", "%s is not enabled", req.Name)

	case ReqDeps:
		return s.handleDeps(req.Name)

	case ReqGetBootTarget:
		return &Response{Kind: RespOk, Target: s.BootTarget}

	case ReqSwitchTarget:
		if s.Shutdown != nil && (req.Name == "poweroff.target" || req.Name == "reboot.target") {
			go s.Shutdown(req.Name == "reboot.target")
			return &Response{Kind: RespOk}
		}
		return s.handleSwitchTarget(ctx, req.Name)

	case ReqSync:
		return &Response{Kind: RespOk}

	case ReqParse:
		return s.handleParse(req.Path)

	default:
		return Errorf("unknown-request", "unrecognized request kind %q", req.Kind)
	}
}

func (s *Server) handleList(filter string) *Response {
	var units []UnitInfo
	for _, u := range s.Reg.List() {
		if filter != "" && string(u.Runtime.Active) != filter {
			continue
		}
		units = append(units, toUnitInfo(s.Reg, u))
	}
	return &Response{Kind: RespUnits, Units: units}
}

func (s *Server) handleStatus(name string) *Response {
	u, ok := s.Reg.Get(name)
	if !ok {
		var err error
		u, err = s.Reg.Load(name)
		if err != nil && u == nil {
			return Errorf("no-such-unit", "%v", err)
		}
	}
	return &Response{Kind: RespUnitInfo, Unit: toUnitInfo(s.Reg, u)}
}

func toUnitInfo(reg *registry.Registry, u *unit.Unit) UnitInfo {
	return UnitInfo{
		Name:      u.Name,
		LoadState: string(u.Runtime.Load),
		Active:    string(u.Runtime.Active),
		Sub:       u.Runtime.Sub,
		MainPID:   u.Runtime.MainPID,
		Enabled:   reg.IsEnabled(u.Name),
	}
}

// handleJob submits and dispatches a transaction for Start/Stop/
// Restart, answering Ok once every job in it has reached a terminal
// result, or Error on the root job's failure.
func (s *Server) handleJob(ctx context.Context, req *Request) *Response {
	action := job.ActionStart
	switch req.Kind {
	case ReqStop:
		action = job.ActionStop
	case ReqRestart:
		action = job.ActionRestart
	}

	mode := job.ModeReplace
	if req.Mode != "" {
		mode = job.Mode(req.Mode)
	}

	tx, err := s.Jobs.Submit(req.Name, action, mode)
	if err != nil {
		return Errorf("transaction-failed", "%v", err)
	}

	if err := s.Jobs.Dispatch(ctx, tx, s.Sup.Act, s.Sup.StopAct); err != nil {
		return Errorf("dispatch-failed", "%v", err)
	}

	for _, j := range tx.Jobs {
		if j.Unit != req.Name {
			continue
		}
		if result, jerr := j.Result(); result != job.ResultDone {
			return Errorf("job-failed", "%v", jerr)
		}
	}
	return &Response{Kind: RespOk}
}

// handleSwitchTarget isolates to name: every unit not in name's
// closure receives a stop job in the same transaction that starts
// name, per spec.md §8's switch-target scenario. BootTarget only
// advances once the isolate transaction has actually been dispatched.
func (s *Server) handleSwitchTarget(ctx context.Context, name string) *Response {
	tx, err := s.Jobs.Submit(name, job.ActionStart, job.ModeIsolate)
	if err != nil {
		return Errorf("transaction-failed", "%v", err)
	}

	if err := s.Jobs.Dispatch(ctx, tx, s.Sup.Act, s.Sup.StopAct); err != nil {
		return Errorf("dispatch-failed", "%v", err)
	}

	for _, j := range tx.Jobs {
		if j.Unit != name {
			continue
		}
		if result, jerr := j.Result(); result != job.ResultDone {
			return Errorf("job-failed", "%v", jerr)
		}
	}

	s.BootTarget = name
	return &Response{Kind: RespOk}
}

func (s *Server) handleDeps(name string) *Response {
	g := resolver.New()
	g.Build(s.Reg.List())
	names := append([]string{}, g.Requires(name)...)
	names = append(names, g.Wants(name)...)

	units := make([]UnitInfo, 0, len(names))
	for _, n := range names {
		if u, ok := s.Reg.Get(n); ok {
			units = append(units, toUnitInfo(s.Reg, u))
		} else {
			units = append(units, UnitInfo{Name: n})
		}
	}
	return &Response{Kind: RespUnits, Units: units}
}

func (s *Server) handleParse(path string) *Response {
	u, err := parser.LoadFromPath(filepath.Base(path), path)
	if err != nil {
		return Errorf("parse-failed", "%v", err)
	}
	return &Response{Kind: RespUnitInfo, Unit: toUnitInfo(s.Reg, u)}
}
