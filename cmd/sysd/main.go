// Copyright 2015 Apcera Inc. All rights reserved.

package main

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/apcera/logray"

	"github.com/apcera/sysd/activation"
	"github.com/apcera/sysd/control"
	"github.com/apcera/sysd/dynuser"
	"github.com/apcera/sysd/generator"
	"github.com/apcera/sysd/job"
	"github.com/apcera/sysd/pid1"
	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/sandbox"
	"github.com/apcera/sysd/supervisor"
	"github.com/apcera/sysd/unit/parser"
)

const formatString = "%color:class%[%classfixed%]%color:default% %message%"

// defaultTarget is the unit started once boot-time mounts and the
// reaper are up, the analogue of init.defaultConfiguration's initial
// pod set.
const defaultTarget = "default.target"

func main() {
	if sandbox.IsReexecChild() {
		sandbox.Main()
		return
	}

	u := url.URL{
		Scheme:   "stdout",
		RawQuery: url.Values(map[string][]string{"format": {formatString}}).Encode(),
	}
	logray.AddDefaultOutput(u.String(), logray.ALL)
	log := logray.New()

	runtimeDir := "/run/sysd"
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		log.Errorf("creating runtime directory: %v", err)
		os.Exit(1)
	}

	generatorDir := filepath.Join(runtimeDir, "generator")
	if _, err := os.Stat("/etc/fstab"); err == nil {
		if _, err := generator.GenerateMountUnits("/etc/fstab", generatorDir); err != nil {
			log.Errorf("generating mount units from /etc/fstab: %v", err)
		}
	}

	sp := parser.DefaultSearchPath(generatorDir)
	reg := registry.New(sp)
	if err := reg.ReloadAll(); err != nil {
		log.Errorf("initial unit scan: %v", err)
	}

	users, err := dynuser.Open("/var/lib/sysd/dynamic-users/allocations.json")
	if err != nil {
		log.Errorf("opening dynamic user table: %v", err)
		os.Exit(1)
	}
	defer users.Close()

	sup := supervisor.New(reg, users.Allocate, users.Release)
	jobs := job.New(reg)

	act := activation.New(reg, jobs, sup)
	sup.SetActivator(act.Activate)
	sup.SetDeactivator(act.Deactivate)

	runner := pid1.New(reg, jobs, sup)
	runner.RuntimeDir = runtimeDir
	runner.DefaultTarget = defaultTarget

	ctrl := control.New("/run/sysd.sock", reg, jobs, sup, defaultTarget)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := ctrl.Serve(ctx); err != nil {
			log.Errorf("control socket: %v", err)
		}
	}()

	if os.Getpid() == 1 {
		ctrl.Shutdown = runner.RequestShutdown
		if err := runner.Run(); err != nil {
			log.Errorf("pid1: %v", err)
			os.Exit(1)
		}
	} else {
		// Running as an ordinary daemon (outside an initramfs/container
		// PID 1 slot) skips the mount/reaper/reboot machinery that only
		// makes sense as the kernel's first process, but still loads
		// units and starts the default target through the same job
		// engine seam pid1.Runner uses.
		tx, err := jobs.Submit(defaultTarget, job.ActionStart, job.ModeReplace)
		if err != nil {
			log.Errorf("submitting %s: %v", defaultTarget, err)
			os.Exit(1)
		}
		if err := jobs.Dispatch(ctx, tx, sup.Act, sup.StopAct); err != nil {
			log.Errorf("starting %s: %v", defaultTarget, err)
			os.Exit(1)
		}
		select {}
	}

	runtime.Goexit()
}
