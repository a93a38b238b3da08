// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"encoding/gob"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// errFD is the file descriptor the child writes a setup failure reason
// to before exiting, so the parent can report a precise "exec-setup"
// failure rather than an opaque exit status.
const errFD = 4

// Main is the child-side entry point, invoked from main() when
// IsReexecChild reports true. It never returns on success: the final
// step is execve into Config.Argv0.
func Main() {
	cfg, err := readConfig()
	if err != nil {
		fatalf("reading sandbox config: %v", err)
	}

	if err := renumberListenFDs(cfg.ListenFDCount); err != nil {
		fatalf("renumbering listen fds: %v", err)
	}

	if err := setup(cfg); err != nil {
		fatalf("%v", err)
	}

	// execve replaces this process image; Command.Args became argv,
	// Environment became envp. Nothing after this line runs on success.
	if err := syscall.Exec(cfg.Argv0, execArgv(cfg), cfg.Environment); err != nil {
		fatalf("execve %s: %v", cfg.Argv0, err)
	}
}

// renumberListenFDs moves the socket-activation fds Launcher appended
// after the (now-closed) handshake pipe down to a contiguous block
// starting at fd 3, the exact layout LISTEN_FDS=n promises the child
// binary once it execve's.
func renumberListenFDs(count int) error {
	if count == 0 {
		return nil
	}
	for i := 0; i < count; i++ {
		src, dst := configFD+1+i, configFD+i
		if err := unix.Dup2(src, dst); err != nil {
			return fmt.Errorf("dup2 fd %d -> %d: %w", src, dst, err)
		}
	}
	return unix.Close(configFD + count)
}

func execArgv(cfg *Config) []string {
	return append([]string{cfg.Command.Path}, cfg.Command.Args...)
}

func readConfig() (*Config, error) {
	f := os.NewFile(uintptr(configFD), "sandbox-config")
	if f == nil {
		return nil, fmt.Errorf("fd %d not available", configFD)
	}
	defer f.Close()

	var cfg Config
	if err := gob.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setup runs the fork/exec boundary steps in the order spec.md §4.4
// requires. Each numbered comment corresponds to that order.
func setup(cfg *Config) error {
	// 1. Session/process group and stdio are already established by the
	// parent's SysProcAttr/ExtraFiles before re-exec; nothing to do here.

	// 2. setrlimit.
	if err := applyRLimits(cfg.RLimits); err != nil {
		return fmt.Errorf("applying rlimits: %w", err)
	}

	// 3. Join the pre-created cgroup.
	if cfg.CgroupPath != "" {
		if err := joinCgroup(cfg.CgroupPath); err != nil {
			return fmt.Errorf("joining cgroup: %w", err)
		}
	}

	// 4. User namespace isolation: not implemented (SPEC_FULL.md Open
	// Question — sysd targets container-adjacent services that stay in
	// the host user namespace; user namespaces are left to a future
	// PrivateUsers= directive).

	// 5-8. Mount namespace reconstruction, network/UTS isolation, and
	// chdir (no chroot is performed).
	if cfg.Sandbox.NeedsMountNamespace() {
		if err := setupMountNamespace(cfg); err != nil {
			return fmt.Errorf("setting up mount namespace: %w", err)
		}
	}
	if cfg.Sandbox.PrivateNetwork {
		if err := unix.Unshare(unix.CLONE_NEWNET); err != nil {
			return fmt.Errorf("unsharing network namespace: %w", err)
		}
	}
	if cfg.Sandbox.ProtectHostname {
		if err := unix.Unshare(unix.CLONE_NEWUTS); err != nil {
			return fmt.Errorf("unsharing uts namespace: %w", err)
		}
	}
	if err := chdirWorkingDirectory(cfg); err != nil {
		return err
	}

	// 9. Drop supplementary groups, setgid, setuid.
	if err := applyIdentity(cfg); err != nil {
		return fmt.Errorf("switching identity: %w", err)
	}

	// 10. Capability bounding and ambient sets.
	if err := applyCapabilityBoundingSet(cfg.Sandbox.CapabilityBoundingSet); err != nil {
		return fmt.Errorf("applying capability bounding set: %w", err)
	}
	if err := applyAmbientCapabilities(cfg.Sandbox.AmbientCapabilities); err != nil {
		return fmt.Errorf("applying ambient capabilities: %w", err)
	}

	// 11. NoNewPrivileges.
	if cfg.Sandbox.NoNewPrivileges || cfg.Sandbox.NeedsSeccomp() {
		if err := applyNoNewPrivileges(); err != nil {
			return fmt.Errorf("setting no_new_privs: %w", err)
		}
	}

	// 12. MemoryDenyWriteExecute / dumpable.
	if cfg.Sandbox.MemoryDenyWriteExecute {
		if err := applyMemoryDenyWriteExecute(); err != nil {
			return fmt.Errorf("applying memory deny write execute: %w", err)
		}
	}

	// 13. Seccomp filter, applied last: every syscall the steps above
	// needed has already run.
	if cfg.Sandbox.NeedsSeccomp() {
		if err := installSeccompFilter(cfg.Sandbox); err != nil {
			return fmt.Errorf("installing seccomp filter: %w", err)
		}
	}

	return nil
}

func chdirWorkingDirectory(cfg *Config) error {
	dir := cfg.WorkingDirectory
	if dir == "" {
		return nil
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("chdir %s: %w", dir, err)
	}
	return nil
}

func joinCgroup(cgroupPath string) error {
	fn := cgroupPath + "/cgroup.procs"
	return os.WriteFile(fn, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// applyMemoryDenyWriteExecute sets PR_SET_MDWE via prctl, blocking
// mmap/mprotect calls that would create a writable+executable mapping.
func applyMemoryDenyWriteExecute() error {
	const (
		prSetMDWE        = 65
		prMDWERefuseExec = 1
	)
	return unix.Prctl(prSetMDWE, prMDWERefuseExec, 0, 0, 0)
}

// fatalf writes a setup failure reason to errFD if available, falling
// back to stderr, then exits non-zero so the parent's wait4 sees a
// distinguishable exec-setup failure rather than a normal crash.
func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if f := os.NewFile(uintptr(errFD), "sandbox-error"); f != nil {
		fmt.Fprintln(f, msg)
		f.Close()
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(1)
}
