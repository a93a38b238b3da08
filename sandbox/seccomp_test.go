package sandbox

import (
	"testing"

	. "github.com/apcera/util/testtool"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

func TestResolveDenylistEmptyWhenNothingConfigured(t *testing.T) {
	sb := unit.NewSandbox()
	TestEqual(t, len(resolveDenylist(sb)), 0)
}

func TestResolveDenylistSystemCallFilter(t *testing.T) {
	sb := unit.NewSandbox()
	sb.SystemCallFilter = []string{"mount", "~reboot"}
	nrs := resolveDenylist(sb)
	TestTrue(t, containsInt(nrs, unix.SYS_MOUNT))
	TestTrue(t, containsInt(nrs, unix.SYS_REBOOT))
}

func TestResolveDenylistRestrictNamespaces(t *testing.T) {
	sb := unit.NewSandbox()
	sb.RestrictNamespaces = []string{"net"}
	nrs := resolveDenylist(sb)
	TestTrue(t, containsInt(nrs, unix.SYS_CLONE))
	TestTrue(t, containsInt(nrs, unix.SYS_UNSHARE))
	TestTrue(t, containsInt(nrs, unix.SYS_SETNS))
}

func TestResolveDenylistDeduplicates(t *testing.T) {
	sb := unit.NewSandbox()
	sb.LockPersonality = true
	sb.SystemCallFilter = []string{"personality"}
	nrs := resolveDenylist(sb)
	count := 0
	for _, nr := range nrs {
		if nr == unix.SYS_PERSONALITY {
			count++
		}
	}
	TestEqual(t, count, 1)
}

func TestResolveErrnoDefaultsToEPERM(t *testing.T) {
	sb := unit.NewSandbox()
	TestEqual(t, resolveErrno(sb), uint32(unix.EPERM))
}

func TestResolveErrnoAcceptsName(t *testing.T) {
	sb := unit.NewSandbox()
	sb.SystemCallErrorNumber = "EACCES"
	TestEqual(t, resolveErrno(sb), uint32(unix.EACCES))
}

func TestResolveErrnoAcceptsNumber(t *testing.T) {
	sb := unit.NewSandbox()
	sb.SystemCallErrorNumber = "13"
	TestEqual(t, resolveErrno(sb), uint32(13))
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
