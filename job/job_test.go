// Copyright 2015 Apcera Inc. All rights reserved.

package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/unit/parser"
)

func writeUnit(t *testing.T, dir, name, content string) {
	TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestSubmitStartClosure(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/true
`)
	writeUnit(t, dir, "b.service", `
[Unit]
DefaultDependencies=no
After=a.service
Requires=a.service

[Service]
ExecStart=/bin/true
`)

	r := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	e := New(r)
	tx, err := e.Submit("b.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)

	TestEqual(t, tx.Order, []string{"a.service", "b.service"})
	TestEqual(t, len(tx.Jobs), 2)
}

func TestDispatchRunsInOrder(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/true
`)
	writeUnit(t, dir, "b.service", `
[Unit]
DefaultDependencies=no
After=a.service
Requires=a.service

[Service]
ExecStart=/bin/true
`)

	r := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	e := New(r)
	tx, err := e.Submit("b.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)

	var started []string
	startAct := func(ctx context.Context, name string) error {
		started = append(started, name)
		return nil
	}
	err = e.Dispatch(context.Background(), tx, startAct, startAct)
	TestExpectSuccess(t, err)
	TestEqual(t, started, []string{"a.service", "b.service"})

	for _, j := range tx.Jobs {
		result, jerr := j.Wait(time.Second)
		TestExpectSuccess(t, jerr)
		TestEqual(t, result, ResultDone)
	}
}

func TestDispatchPropagatesRequiredFailure(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/false
`)
	writeUnit(t, dir, "b.service", `
[Unit]
DefaultDependencies=no
After=a.service
Requires=a.service

[Service]
ExecStart=/bin/true
`)

	r := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	e := New(r)
	tx, err := e.Submit("b.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)

	startAct := func(ctx context.Context, name string) error {
		if name == "a.service" {
			return fmt.Errorf("simulated failure")
		}
		return nil
	}
	err = e.Dispatch(context.Background(), tx, startAct, startAct)
	TestExpectSuccess(t, err)

	for _, j := range tx.Jobs {
		result, _ := j.Wait(time.Second)
		TestEqual(t, result, ResultDependency)
	}
}

func TestDispatchRunsConflictsStopJob(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/true
`)
	writeUnit(t, dir, "b.service", `
[Unit]
DefaultDependencies=no
Conflicts=a.service

[Service]
ExecStart=/bin/true
`)

	r := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	e := New(r)
	tx, err := e.Submit("b.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)

	var started, stopped []string
	startAct := func(ctx context.Context, name string) error {
		started = append(started, name)
		return nil
	}
	stopAct := func(ctx context.Context, name string) error {
		stopped = append(stopped, name)
		return nil
	}
	err = e.Dispatch(context.Background(), tx, startAct, stopAct)
	TestExpectSuccess(t, err)

	TestEqual(t, started, []string{"b.service"})
	TestEqual(t, stopped, []string{"a.service"})

	for _, j := range tx.Jobs {
		result, jerr := j.Wait(time.Second)
		TestExpectSuccess(t, jerr)
		TestEqual(t, result, ResultDone)
	}
}

func TestDispatchRunsIsolateStopJobs(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/true
`)
	writeUnit(t, dir, "b.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/true
`)

	r := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	e := New(r)
	// Start a.service first so it has a known active job, then isolate
	// to b.service: a.service should get a stop job in the same
	// transaction rather than being left running.
	firstTx, err := e.Submit("a.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)
	startAct := func(ctx context.Context, name string) error { return nil }
	TestExpectSuccess(t, e.Dispatch(context.Background(), firstTx, startAct, startAct))

	tx, err := e.Submit("b.service", ActionStart, ModeIsolate)
	TestExpectSuccess(t, err)

	var started, stopped []string
	sAct := func(ctx context.Context, name string) error {
		started = append(started, name)
		return nil
	}
	kAct := func(ctx context.Context, name string) error {
		stopped = append(stopped, name)
		return nil
	}
	err = e.Dispatch(context.Background(), tx, sAct, kAct)
	TestExpectSuccess(t, err)

	TestEqual(t, started, []string{"b.service"})
	TestEqual(t, stopped, []string{"a.service"})
}

func TestSubmitReplaceModeCancelsPending(t *testing.T) {
	dir := TempDir(t)
	writeUnit(t, dir, "a.service", `
[Unit]
DefaultDependencies=no

[Service]
ExecStart=/bin/true
`)

	r := registry.New(parser.SearchPath{dir})
	TestExpectSuccess(t, r.ReloadAll())

	e := New(r)
	firstTx, err := e.Submit("a.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)
	firstJob := firstTx.Jobs[0]

	_, err = e.Submit("a.service", ActionStart, ModeReplace)
	TestExpectSuccess(t, err)

	result, _ := firstJob.Wait(time.Second)
	TestEqual(t, result, ResultCanceled)
}
