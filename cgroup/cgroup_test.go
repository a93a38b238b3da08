// Copyright 2015 Apcera Inc. All rights reserved.

package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	. "github.com/apcera/util/testtool"
	"golang.org/x/sys/unix"
)

func withRoot(t *testing.T, f func(root string)) {
	defer func(r string) { cgroupRoot = r }(cgroupRoot)
	cgroupRoot = TempDir(t)
	f(cgroupRoot)
}

func TestNewCreatesDirectory(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("test.slice")
		TestExpectSuccess(t, err)
		TestEqual(t, c.Name(), "test.slice")

		stat, err := os.Stat(filepath.Join(root, "test.slice"))
		TestExpectSuccess(t, err)
		TestTrue(t, stat.IsDir())
	})
}

func TestNewFailsIfAlreadyPopulated(t *testing.T) {
	withRoot(t, func(root string) {
		dir := filepath.Join(root, "busy.slice")
		TestExpectSuccess(t, os.MkdirAll(dir, 0755))
		TestExpectSuccess(t, os.WriteFile(filepath.Join(dir, procsFile), []byte("123\n"), 0644))

		_, err := New("busy.slice")
		TestExpectError(t, err)
	})
}

func TestNewFailsIfPathIsAFile(t *testing.T) {
	withRoot(t, func(root string) {
		TestExpectSuccess(t, os.WriteFile(filepath.Join(root, "notadir"), []byte{}, 0644))
		_, err := New("notadir")
		TestExpectError(t, err)
	})
}

func TestAddProcessWritesProcsFile(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, c.AddProcess(4242))

		b, err := os.ReadFile(filepath.Join(root, "svc.service", procsFile))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), "4242\n")
	})
}

func TestTasksParsesProcsFile(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		fn := filepath.Join(root, "svc.service", procsFile)
		TestExpectSuccess(t, os.WriteFile(fn, []byte("10\n20\n30\n"), 0644))

		tasks, err := c.Tasks()
		TestExpectSuccess(t, err)
		TestEqual(t, tasks, []int{10, 20, 30})
	})
}

func TestTasksRejectsGarbage(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		fn := filepath.Join(root, "svc.service", procsFile)
		TestExpectSuccess(t, os.WriteFile(fn, []byte("not-a-pid\n"), 0644))

		_, err = c.Tasks()
		TestExpectError(t, err)
	})
}

func TestChildrenListsSubdirectories(t *testing.T) {
	withRoot(t, func(root string) {
		parent, err := New("system.slice")
		TestExpectSuccess(t, err)

		_, err = parent.New("a.service")
		TestExpectSuccess(t, err)
		_, err = parent.New("b.service")
		TestExpectSuccess(t, err)

		children, err := parent.Children()
		TestExpectSuccess(t, err)
		TestEqual(t, len(children), 2)
	})
}

func TestDestroyedReportsMissingDirectory(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		destroyed, err := c.Destroyed()
		TestExpectSuccess(t, err)
		TestFalse(t, destroyed)

		TestExpectSuccess(t, c.Shutdown())

		destroyed, err = c.Destroyed()
		TestExpectSuccess(t, err)
		TestTrue(t, destroyed)
	})
}

func TestShutdownPropagatesRemoveError(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		defer func() { osRemove = os.RemoveAll }()
		osRemove = func(name string) error {
			return fmt.Errorf("expected error from os.RemoveAll()")
		}

		TestExpectError(t, c.Shutdown())
	})
}

func TestLimitCPUWritesCPUMax(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, c.LimitCPU(0.5))

		b, err := os.ReadFile(filepath.Join(root, "svc.service", cpuMaxFile))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), fmt.Sprintf("%d %d\n", cpuPeriodUS/2, cpuPeriodUS))
	})
}

func TestLimitCPUZeroMeansUnlimited(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, c.LimitCPU(0))

		b, err := os.ReadFile(filepath.Join(root, "svc.service", cpuMaxFile))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), fmt.Sprintf("max %d\n", cpuPeriodUS))
	})
}

func TestLimitMemoryWritesMemoryMax(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, c.LimitMemory(1024*1024))

		b, err := os.ReadFile(filepath.Join(root, "svc.service", memoryMaxFile))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), strconv.Itoa(1024*1024)+"\n")
	})
}

func TestLimitMemoryInfinitySentinelWritesMax(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, c.LimitMemory(^uint64(0)))

		b, err := os.ReadFile(filepath.Join(root, "svc.service", memoryMaxFile))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), "max\n")
	})
}

func TestEnableControllersAppendsToSubtreeControl(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("system.slice")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, c.EnableControllers("cpu", "memory"))

		b, err := os.ReadFile(filepath.Join(root, "system.slice", subtreeControl))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), "+cpu\n+memory\n")
	})
}

func TestSignalAllSkipsMissingProcesses(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		fn := filepath.Join(root, "svc.service", procsFile)
		TestExpectSuccess(t, os.WriteFile(fn, []byte("1\n2\n3\n"), 0644))

		defer func() { unixKill = unix.Kill }()
		unixKill = func(pid int, sig unix.Signal) error {
			if pid == 2 {
				return unix.ESRCH
			}
			return nil
		}

		n, err := c.SignalAll(unix.SIGTERM)
		TestExpectSuccess(t, err)
		TestEqual(t, n, 2)
	})
}

func TestSignalAllPropagatesOtherErrors(t *testing.T) {
	withRoot(t, func(root string) {
		c, err := New("svc.service")
		TestExpectSuccess(t, err)

		fn := filepath.Join(root, "svc.service", procsFile)
		TestExpectSuccess(t, os.WriteFile(fn, []byte("1\n"), 0644))

		defer func() { unixKill = unix.Kill }()
		unixKill = func(pid int, sig unix.Signal) error {
			return unix.EPERM
		}

		_, err = c.SignalAll(unix.SIGTERM)
		TestExpectError(t, err)
	})
}

func TestDestroyRemovesEmptyCgroupAndChildren(t *testing.T) {
	withRoot(t, func(root string) {
		parent, err := New("system.slice")
		TestExpectSuccess(t, err)

		_, err = parent.New("svc.service")
		TestExpectSuccess(t, err)

		TestExpectSuccess(t, parent.Destroy())

		destroyed, err := parent.Destroyed()
		TestExpectSuccess(t, err)
		TestTrue(t, destroyed)
	})
}
