// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/util/proc"
)

func withMountsFixture(t *testing.T, content string, f func()) {
	defer func(p string) { proc.MountProcFile = p }(proc.MountProcFile)

	if content == "" {
		proc.MountProcFile = filepath.Join(TempDir(t), "nonexistent-mounts")
		f()
		return
	}

	path := filepath.Join(TempDir(t), "mounts")
	TestExpectSuccess(t, os.WriteFile(path, []byte(content), 0644))
	proc.MountProcFile = path
	f()
}

func TestExistingMountsEmptyWhenProcMissing(t *testing.T) {
	withMountsFixture(t, "", func() {
		mounts, err := existingMounts()
		TestExpectSuccess(t, err)
		TestEqual(t, len(mounts), 0)
	})
}

func TestExistingMountsParsesFixture(t *testing.T) {
	fixture := "none /proc proc rw,relatime 0 0\n" +
		"none /sys sysfs rw,relatime 0 0\n" +
		"none /var/lib/sysd/app tmpfs rw 0 0\n"

	withMountsFixture(t, fixture, func() {
		mounts, err := existingMounts()
		TestExpectSuccess(t, err)
		_, ok := mounts["/proc"]
		TestTrue(t, ok)
		_, ok = mounts["/var/lib/sysd/app"]
		TestTrue(t, ok)
	})
}

func TestNonEssentialMountsExcludesKernelMounts(t *testing.T) {
	existing := map[string]*proc.MountPoint{
		"/proc":                 {},
		"/sys":                  {},
		"/sys/fs/cgroup":        {},
		"/var/lib/sysd/volumes": {},
	}

	got := nonEssentialMounts(existing)
	TestEqual(t, len(got), 1)
	TestEqual(t, got[0], "/var/lib/sysd/volumes")
}
