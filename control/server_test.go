// Copyright 2015 Apcera Inc. All rights reserved.

package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/job"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/supervisor"
	"github.com/apcera/sysd/unit"
	"github.com/apcera/sysd/unit/parser"
)

func newTestServer(t *testing.T) (*Server, string) {
	dir := TempDir(t)
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, "web.service"), []byte(`
[Service]
ExecStart=/bin/true
`), 0644))

	reg := registry.New(parser.SearchPath{dir})
	_, err := reg.Load("web.service")
	TestExpectSuccess(t, err)

	sup := supervisor.New(reg, nil, nil)
	jobs := job.New(reg)

	return New(filepath.Join(dir, "control.sock"), reg, jobs, sup, "default.target"), dir
}

func TestDispatchPingReturnsOk(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Request{Kind: ReqPing}, nil)
	TestEqual(t, resp.Kind, RespOk)
}

func TestDispatchStatusReturnsUnitInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Request{Kind: ReqStatus, Name: "web.service"}, nil)
	TestEqual(t, resp.Kind, RespUnitInfo)
	TestEqual(t, resp.Unit.Name, "web.service")
}

func TestDispatchStatusUnknownUnitErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Request{Kind: ReqStatus, Name: "missing.service"}, nil)
	TestEqual(t, resp.Kind, RespError)
}

func TestDispatchListReturnsAllUnits(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Request{Kind: ReqList}, nil)
	TestEqual(t, resp.Kind, RespUnits)
	TestEqual(t, len(resp.Units), 1)
}

func TestDispatchMutatingRequestRejectsNonRootPeer(t *testing.T) {
	srv, _ := newTestServer(t)
	cred := &unix.Ucred{Uid: 1000}
	resp := srv.dispatch(context.Background(), &Request{Kind: ReqReload}, cred)
	TestEqual(t, resp.Kind, RespError)
	TestEqual(t, resp.ErrKind, "permission-denied")
}

func TestDispatchUnknownRequestKindErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Request{Kind: "bogus"}, nil)
	TestEqual(t, resp.Kind, RespError)
}

func TestDispatchSwitchTargetIsolatesToNewTarget(t *testing.T) {
	dir := TempDir(t)
	// Target units have no process/cgroup of their own (the Kind
	// switch in service.go/kill.go marks them active/inactive
	// directly), keeping this test free of real forking.
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, "multi-user.target"), []byte(`
[Unit]
DefaultDependencies=no
`), 0644))
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, "rescue.target"), []byte(`
[Unit]
DefaultDependencies=no
`), 0644))

	reg := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, reg.ReloadAll())

	sup := supervisor.New(reg, nil, nil)
	jobs := job.New(reg)
	srv := New(filepath.Join(dir, "control.sock"), reg, jobs, sup, "default.target")

	// Start multi-user.target so it has an active job before isolating
	// away from it.
	startResp := srv.dispatch(context.Background(), &Request{Kind: ReqStart, Name: "multi-user.target"}, nil)
	TestEqual(t, startResp.Kind, RespOk)

	multiUser, ok := reg.Get("multi-user.target")
	TestTrue(t, ok)
	TestEqual(t, multiUser.Runtime.Active, unit.StateActive)

	resp := srv.dispatch(context.Background(), &Request{Kind: ReqSwitchTarget, Name: "rescue.target"}, nil)
	TestEqual(t, resp.Kind, RespOk)

	bootResp := srv.dispatch(context.Background(), &Request{Kind: ReqGetBootTarget}, nil)
	TestEqual(t, bootResp.Target, "rescue.target")

	// multi-user.target wasn't in rescue.target's closure, so the
	// isolate transaction's stop job should have deactivated it.
	TestEqual(t, multiUser.Runtime.Active, unit.StateInactive)
}
