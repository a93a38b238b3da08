// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/apcera/util/proc"
)

// essentialMount is one entry of the boot-time mount table, the same
// {location, source, fstype} shape as init.runner.createSystemMounts's
// systemMounts table.
type essentialMount struct {
	location, source, fstype, data string
}

// mountEssentials mounts the filesystems PID 1 needs before anything
// else can run, per spec.md §4.8. Order matters: /dev before /dev/pts,
// /run before the runtime directory is used by the notify socket.
func (r *Runner) mountEssentials() error {
	mounts := []essentialMount{
		{"/proc", "none", "proc", ""},
		{"/sys", "none", "sysfs", ""},
		{"/dev", "devtmpfs", "devtmpfs", ""},
		{"/dev/pts", "none", "devpts", ""},
		{"/dev/shm", "none", "tmpfs", ""},
		{"/run", "none", "tmpfs", "mode=755"},
	}

	r.Log.Info("Mounting essential filesystems")

	existing, err := existingMounts()
	if err != nil {
		return err
	}

	for _, m := range mounts {
		if _, ok := existing[m.location]; ok {
			r.Log.Tracef("- skipping %q, already mounted", m.location)
			continue
		}
		r.Log.Tracef("- mounting %q (type %q) at %q", m.source, m.fstype, m.location)
		if err := handleMount(m.source, m.location, m.fstype, m.data); err != nil {
			return err
		}
	}

	return os.MkdirAll(r.RuntimeDir, 0755)
}

// mountCgroups mounts the single unified cgroup v2 hierarchy, replacing
// init.runner.mountCgroups's per-controller v1 mount loop: v2 has one
// mount point and controllers are enabled per-directory via
// cgroup.subtree_control, which the cgroup package handles at node
// creation time.
func (r *Runner) mountCgroups() error {
	const cgroupRoot = "/sys/fs/cgroup"

	existing, err := existingMounts()
	if err != nil {
		return err
	}
	if _, ok := existing[cgroupRoot]; ok {
		r.Log.Trace("- skipping cgroup2, already mounted")
		return nil
	}

	r.Log.Info("Mounting cgroup2")
	return handleMount("cgroup2", cgroupRoot, "cgroup2", "")
}

// handleMount creates location and issues the mount syscall, the
// generalization of init.handleMount to golang.org/x/sys/unix instead
// of the syscall package.
func handleMount(source, location, fstype, data string) error {
	if err := os.MkdirAll(location, 0755); err != nil {
		return err
	}
	return unix.Mount(source, location, fstype, 0, data)
}

// essentialMountPoints are never unmounted during shutdown: the kernel
// needs /proc and /sys right up to the reboot(2) call itself.
var essentialMountPoints = map[string]bool{
	"/":         true,
	"/proc":     true,
	"/sys":      true,
	"/dev":      true,
	"/dev/pts":  true,
	"/dev/shm":  true,
	"/sys/fs/cgroup": true,
}

// unmountNonEssential unmounts every filesystem besides the kernel
// essentials, per spec.md §8 scenario 5's "all non-essential mounts
// unmounted" step. Failures are logged, not fatal: a stuck mount must
// not prevent the reboot(2) call that follows.
func (r *Runner) unmountNonEssential() {
	existing, err := existingMounts()
	if err != nil {
		r.Log.Warnf("reading mounts before unmount sweep: %v", err)
		return
	}
	for _, location := range nonEssentialMounts(existing) {
		if err := unix.Unmount(location, unix.MNT_DETACH); err != nil {
			r.Log.Warnf("unmounting %s: %v", location, err)
		}
	}
}

// nonEssentialMounts filters existing down to the mount points
// unmountNonEssential should detach, split out as a pure function so
// the filtering rule is testable without a real mount table.
func nonEssentialMounts(existing map[string]*proc.MountPoint) []string {
	var out []string
	for location := range existing {
		if !essentialMountPoints[location] {
			out = append(out, location)
		}
	}
	return out
}

// existingMounts reads /proc/mounts, returning an empty set if /proc
// isn't mounted yet (a genuinely fresh boot), matching init.runner's
// Lstat-before-MountPoints check.
func existingMounts() (map[string]*proc.MountPoint, error) {
	if _, err := os.Lstat(proc.MountProcFile); err != nil {
		if os.IsNotExist(err) {
			return map[string]*proc.MountPoint{}, nil
		}
		return nil, err
	}
	return proc.MountPoints()
}
