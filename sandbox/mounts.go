// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// emptyDir is bind-mounted over paths InaccessiblePaths and
// PrivateDevices/ProtectKernelModules need to hide entirely. It is
// created with MkdirAll when missing and left in place afterwards, so
// it persists on the host and is shared by every sandboxed process.
const emptyDir = "/run/sysd/empty"

// setupMountNamespace unshares a new mount namespace and reconstructs
// the root filesystem view according to the sandbox directives, per
// spec.md §4.4 step 5.
func setupMountNamespace(cfg *Config) error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("unshare CLONE_NEWNS: %w", err)
	}
	// Mark the whole tree private so bind mounts made here don't leak
	// back to the host's mount namespace.
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("marking / private: %w", err)
	}

	sb := cfg.Sandbox

	if err := os.MkdirAll(emptyDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", emptyDir, err)
	}

	if err := applyProtectSystem(sb.ProtectSystem); err != nil {
		return err
	}
	if err := applyProtectHome(sb.ProtectHome); err != nil {
		return err
	}
	if sb.PrivateTmp {
		if err := mountTmpfs("/tmp"); err != nil {
			return err
		}
		if err := mountTmpfs("/var/tmp"); err != nil {
			return err
		}
	}
	if sb.PrivateDevices {
		if err := applyPrivateDevices(); err != nil {
			return err
		}
	}
	if sb.ProtectKernelTunables {
		if err := bindMountReadOnly("/proc/sys"); err != nil {
			return err
		}
		if err := bindMountReadOnly("/sys"); err != nil {
			return err
		}
	}
	if sb.ProtectControlGroups {
		if err := bindMountReadOnly("/sys/fs/cgroup"); err != nil {
			return err
		}
	}
	if sb.ProtectKernelLogs {
		if err := bindMountInaccessible("/dev/kmsg"); err != nil {
			return err
		}
	}
	if sb.ProtectProc != "" && sb.ProtectProc != "default" {
		if err := applyProtectProc(sb.ProtectProc); err != nil {
			return err
		}
	}

	// ReadWritePaths/ReadOnlyPaths/InaccessiblePaths are applied last so
	// they override whatever the directives above already did.
	for _, p := range sb.ReadWritePaths {
		if err := bindMountReadWrite(p); err != nil {
			return err
		}
	}
	for _, p := range sb.ReadOnlyPaths {
		if err := bindMountReadOnly(p); err != nil {
			return err
		}
	}
	for _, p := range sb.InaccessiblePaths {
		if err := bindMountInaccessible(p); err != nil {
			return err
		}
	}

	return nil
}

func applyProtectSystem(mode unit.ProtectSystem) error {
	switch mode {
	case "", unit.ProtectSystemNo:
		return nil
	case unit.ProtectSystemStrict:
		return bindMountReadOnly("/")
	case unit.ProtectSystemFull:
		for _, p := range []string{"/usr", "/boot", "/etc"} {
			if err := bindMountReadOnlyIfExists(p); err != nil {
				return err
			}
		}
		return nil
	case unit.ProtectSystemYes:
		for _, p := range []string{"/usr", "/boot"} {
			if err := bindMountReadOnlyIfExists(p); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func applyProtectHome(mode unit.ProtectHome) error {
	paths := []string{"/home", "/root", "/run/user"}
	switch mode {
	case "", unit.ProtectHomeNo:
		return nil
	case unit.ProtectHomeYes:
		for _, p := range paths {
			if err := bindMountInaccessibleIfExists(p); err != nil {
				return err
			}
		}
	case unit.ProtectHomeReadOnly:
		for _, p := range paths {
			if err := bindMountReadOnlyIfExists(p); err != nil {
				return err
			}
		}
	case unit.ProtectHomeTmpfs:
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				if err := mountTmpfs(p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyPrivateDevices bind-mounts a minimal, read-only set of device
// nodes over a fresh tmpfs at /dev, per spec.md §4.4 step 5.
func applyPrivateDevices() error {
	if err := mountTmpfs("/dev"); err != nil {
		return err
	}
	for _, name := range []string{"null", "zero", "full", "random", "urandom", "tty"} {
		dst := "/dev/" + name
		if err := os.WriteFile(dst, nil, 0666); err != nil && !os.IsExist(err) {
			return fmt.Errorf("creating %s: %w", dst, err)
		}
		src := "/dev/" + name
		if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("bind mounting %s: %w", dst, err)
		}
	}
	return nil
}

// applyProtectProc mounts a fresh /proc with the given hidepid mode.
func applyProtectProc(mode string) error {
	hidepid := map[string]string{
		"invisible":  "2",
		"ptraceable": "1",
		"noaccess":   "2",
	}[mode]
	if hidepid == "" {
		return nil
	}
	if err := unix.Unmount("/proc", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmounting /proc: %w", err)
	}
	if err := unix.Mount("proc", "/proc", "proc", 0, "hidepid="+hidepid); err != nil {
		return fmt.Errorf("mounting /proc: %w", err)
	}
	return nil
}

func mountTmpfs(path string) error {
	if err := unix.Mount("tmpfs", path, "tmpfs", 0, "mode=1777"); err != nil {
		return fmt.Errorf("mounting tmpfs at %s: %w", path, err)
	}
	return nil
}

func bindMountReadOnly(path string) error {
	if err := unix.Mount(path, path, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mounting %s: %w", path, err)
	}
	if err := unix.Mount("", path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("remounting %s read-only: %w", path, err)
	}
	return nil
}

func bindMountReadOnlyIfExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return bindMountReadOnly(path)
}

func bindMountReadWrite(path string) error {
	if err := unix.Mount(path, path, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mounting %s: %w", path, err)
	}
	return nil
}

// bindMountInaccessible hides path entirely by bind mounting an empty
// directory over it, per spec.md §4.4 step 5's ProtectKernelLogs and
// InaccessiblePaths handling.
func bindMountInaccessible(path string) error {
	if err := unix.Mount(emptyDir, path, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("hiding %s: %w", path, err)
	}
	return nil
}

func bindMountInaccessibleIfExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return bindMountInaccessible(path)
}
