// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	"github.com/apcera/sysd/unit"
)

// Launcher starts a unit's main process across the re-exec boundary,
// the way stage2/client.Launcher starts the stage2 container process.
type Launcher struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// AllocatePTY requests a pty pair for the child's controlling
	// terminal, used when StdinTarget/StdoutTarget/StderrTarget is
	// "tty" (spec.md §3's stdio spec). The slave becomes the child's
	// stdio; the master is returned from Launch for the caller (the
	// supervisor, wiring console/journal output) to read from.
	AllocatePTY bool

	// ListenFiles are pre-bound socket-activation listeners to hand the
	// child starting at fd 3 + len(handshake fds), per spec.md §6's
	// LISTEN_FDS convention. Launch sets LISTEN_FDS/LISTEN_PID/
	// LISTEN_FDNAMES on cfg.Environment to match.
	ListenFiles     []*os.File
	ListenFDNames   []string
}

// Launch re-execs the running binary with reexecEnvVar set, handing the
// child its Config over a pipe, and returns once the child process has
// started (not once Config.Command has been exec'd; the caller
// observes that indirectly via the supervisor's readiness protocol).
// When AllocatePTY is set, the returned *os.File is the pty master;
// otherwise it is nil.
func (l *Launcher) Launch(cfg *Config) (*os.Process, *os.File, error) {
	configR, configW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating sandbox config pipe: %w", err)
	}
	defer configR.Close()

	cmd := exec.Command(os.Args[0], "--sandbox-child")
	cmd.ExtraFiles = append([]*os.File{configR}, l.ListenFiles...)
	cmd.Env = []string{reexecEnvVar + "=1"}

	var ptyMaster, ptySlave *os.File
	if l.AllocatePTY {
		if ptyMaster, ptySlave, err = pty.Open(); err != nil {
			configW.Close()
			return nil, nil, fmt.Errorf("allocating pty: %w", err)
		}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = ptySlave, ptySlave, ptySlave
		cmd.SysProcAttr = &syscall.SysProcAttr{Setctty: true, Setsid: true}
	} else {
		stdin := l.Stdin
		if stdin == nil {
			if stdin, err = os.OpenFile("/dev/null", os.O_RDONLY, 0); err != nil {
				configW.Close()
				return nil, nil, err
			}
			defer stdin.Close()
		}
		cmd.Stdin = stdin
		cmd.Stdout = l.Stdout
		cmd.Stderr = l.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	if err := cmd.Start(); err != nil {
		configW.Close()
		if ptySlave != nil {
			ptySlave.Close()
		}
		if ptyMaster != nil {
			ptyMaster.Close()
		}
		return nil, nil, fmt.Errorf("starting sandbox child: %w", err)
	}
	configR.Close()
	if ptySlave != nil {
		ptySlave.Close()
	}

	if len(l.ListenFiles) > 0 {
		cfg.ListenFDCount = len(l.ListenFiles)
		cfg.Environment = append(cfg.Environment,
			fmt.Sprintf("LISTEN_FDS=%d", len(l.ListenFiles)),
			fmt.Sprintf("LISTEN_PID=%d", cmd.Process.Pid))
		if len(l.ListenFDNames) > 0 {
			cfg.Environment = append(cfg.Environment, "LISTEN_FDNAMES="+joinNames(l.ListenFDNames))
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cfg); err != nil {
		configW.Close()
		return cmd.Process, ptyMaster, fmt.Errorf("encoding sandbox config: %w", err)
	}

	// Write after Start: the child already inherited its end of the
	// pipe via ExtraFiles, so writing here can't race the fork. Building
	// buf after Start (rather than before, as a plain pre-fork encode
	// would) is what lets LISTEN_PID above carry the real child pid.
	if _, err := configW.Write(buf.Bytes()); err != nil {
		configW.Close()
		return cmd.Process, ptyMaster, fmt.Errorf("writing sandbox config: %w", err)
	}
	configW.Close()

	return cmd.Process, ptyMaster, nil
}

func joinNames(names []string) string {
	out := names[0]
	for _, n := range names[1:] {
		out += ":" + n
	}
	return out
}

// NeedsPTY reports whether any of the stdio directives select a
// controlling terminal.
func NeedsPTY(stdin, stdout, stderr unit.StdioTarget) bool {
	return stdin == unit.StdioTTY || stdout == unit.StdioTTY || stderr == unit.StdioTTY
}
