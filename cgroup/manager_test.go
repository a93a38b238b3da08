package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func TestPathForDefaultsToSystemSlice(t *testing.T) {
	TestEqual(t, PathFor("sshd.service", unit.ResourceControl{}), "system.slice/sshd.service")
}

func TestPathForHonorsExplicitSlice(t *testing.T) {
	r := unit.ResourceControl{Slice: "user-1000.slice"}
	TestEqual(t, PathFor("app.service", r), "user-1000.slice/app.service")
}

func TestNewManagerCreatesSliceAndUnitCgroups(t *testing.T) {
	withRoot(t, func(root string) {
		limit := uint64(64 * 1024 * 1024)
		r := unit.ResourceControl{
			Slice:     "system.slice",
			CPUQuota:  0.25,
			MemoryMax: &limit,
		}

		m, err := NewManager("sshd.service", r)
		TestExpectSuccess(t, err)
		TestEqual(t, m.Name(), "system.slice/sshd.service")

		_, err = os.Stat(filepath.Join(root, "system.slice", "sshd.service"))
		TestExpectSuccess(t, err)

		b, err := os.ReadFile(filepath.Join(root, "system.slice", "sshd.service", memoryMaxFile))
		TestExpectSuccess(t, err)
		TestEqual(t, string(b), "67108864\n")
	})
}

func TestNewManagerSkipsLimitsWhenDelegated(t *testing.T) {
	withRoot(t, func(root string) {
		limit := uint64(1024)
		r := unit.ResourceControl{Delegate: true, MemoryMax: &limit}

		m, err := NewManager("machine.service", r)
		TestExpectSuccess(t, err)

		b, err := os.ReadFile(filepath.Join(root, "system.slice", "machine.service", memoryMaxFile))
		TestExpectSuccess(t, err)
		// The interface file still carries its kernel default ("max")
		// since Delegate=yes means sysd never wrote a limit into it.
		TestEqual(t, string(b), "max\n")
		_ = m
	})
}
