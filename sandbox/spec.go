// Copyright 2015 Apcera Inc. All rights reserved.

// Package sandbox builds the fork/exec boundary for a unit's main
// process: rlimits, cgroup placement, mount namespace, capabilities,
// identity switch, and seccomp filtering, applied in the order spec.md
// §4.4 documents. Go cannot run arbitrary code between fork and exec
// in-process, so the boundary is implemented as a re-exec of the sysd
// binary itself, the way stage2/client.Launcher re-execs into stage2.
package sandbox

import (
	"os"

	"github.com/apcera/sysd/unit"
)

// reexecEnvVar is set in the child's environment to signal that it
// should run the sandbox setup sequence instead of the normal sysd
// entry point, mirroring the teacher's SPAWNER_INTERCEPT=1 convention.
const reexecEnvVar = "SYSD_SANDBOX_CHILD"

// configFD is the file descriptor, counted from the start of
// ExtraFiles, that carries the gob-encoded Config to the child.
const configFD = 3

// Config is everything the child-side setup needs, carried across the
// re-exec boundary by gob encoding since flags can't express nested
// structs like Sandbox or RLimits cleanly.
type Config struct {
	UnitName string

	Command unit.ExecCommand
	Argv0   string // resolved absolute path to Command.Path

	Identity         unit.Identity
	ResolvedUID      uint32
	ResolvedGID      uint32
	SupplementaryGID []uint32

	WorkingDirectory string
	Environment      []string

	RLimits unit.RLimits
	Sandbox unit.Sandbox

	// CgroupPath is the absolute filesystem path of the unit's cgroup;
	// the child writes its own pid into cgroup.procs after the re-exec
	// so cgroup membership survives the exec into Command.Path.
	CgroupPath string

	// RootDir is carried to the child, normally "/". The mount
	// namespace setup does not read it; its bind mounts use absolute
	// paths.
	RootDir string

	// ListenFDCount is the number of socket-activation fds Launcher
	// appended to ExtraFiles after the handshake pipe; they arrive at
	// fd configFD+1..configFD+ListenFDCount and get renumbered down to
	// 3..3+ListenFDCount-1 once the handshake pipe closes, per spec.md
	// §6's LISTEN_FDS convention.
	ListenFDCount int
}

// IsReexecChild reports whether the current process was invoked as a
// sandbox child, i.e. main() should call Main instead of the normal
// sysd startup path.
func IsReexecChild() bool {
	return os.Getenv(reexecEnvVar) == "1"
}
