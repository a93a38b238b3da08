package sandbox

import (
	"strings"

	"golang.org/x/sys/unix"
)

// capabilityByName is the subset of Linux capability numbers sysd
// needs to recognize in CapabilityBoundingSet=/AmbientCapabilities=,
// named the way systemd documents them ("CAP_NET_BIND_SERVICE").
// Grounded on original_source/src/manager/sandbox.rs's Capability enum.
var capabilityByName = map[string]uintptr{
	"CAP_CHOWN":            0,
	"CAP_DAC_OVERRIDE":     1,
	"CAP_DAC_READ_SEARCH":  2,
	"CAP_FOWNER":           3,
	"CAP_FSETID":           4,
	"CAP_KILL":             5,
	"CAP_SETGID":           6,
	"CAP_SETUID":           7,
	"CAP_SETPCAP":          8,
	"CAP_LINUX_IMMUTABLE":  9,
	"CAP_NET_BIND_SERVICE": 10,
	"CAP_NET_BROADCAST":    11,
	"CAP_NET_ADMIN":        12,
	"CAP_NET_RAW":          13,
	"CAP_IPC_LOCK":         14,
	"CAP_IPC_OWNER":        15,
	"CAP_SYS_MODULE":       16,
	"CAP_SYS_RAWIO":        17,
	"CAP_SYS_CHROOT":       18,
	"CAP_SYS_PTRACE":       19,
	"CAP_SYS_PACCT":        20,
	"CAP_SYS_ADMIN":        21,
	"CAP_SYS_BOOT":         22,
	"CAP_SYS_NICE":         23,
	"CAP_SYS_RESOURCE":     24,
	"CAP_SYS_TIME":         25,
	"CAP_SYS_TTY_CONFIG":   26,
	"CAP_MKNOD":            27,
	"CAP_LEASE":            28,
	"CAP_AUDIT_WRITE":      29,
	"CAP_AUDIT_CONTROL":    30,
	"CAP_SETFCAP":          31,
	"CAP_MAC_OVERRIDE":     32,
	"CAP_MAC_ADMIN":        33,
	"CAP_SYSLOG":           34,
	"CAP_WAKE_ALARM":       35,
	"CAP_BLOCK_SUSPEND":    36,
	"CAP_AUDIT_READ":       37,
	"CAP_PERFMON":            38,
	"CAP_BPF":                39,
	"CAP_CHECKPOINT_RESTORE": 40,
}

const (
	prCapAmbient      = 47
	prCapAmbientRaise = 2
)

// applyCapabilityBoundingSet drops every capability not named in keep
// from the process's bounding set, via repeated PR_CAPBSET_DROP calls.
// An empty keep list is a no-op (nothing configured means no
// restriction), matching spec.md's "unset directive changes nothing".
func applyCapabilityBoundingSet(keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[strings.ToUpper(name)] = true
	}
	for name, num := range capabilityByName {
		if keepSet[name] {
			continue
		}
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, num, 0, 0, 0); err != nil {
			if err == unix.EINVAL {
				// The running kernel doesn't know this capability number;
				// nothing to drop.
				continue
			}
			return err
		}
	}
	return nil
}

// applyAmbientCapabilities raises each named capability into the
// ambient set, so it survives an execve into a non-setuid binary
// despite NoNewPrivileges=yes.
func applyAmbientCapabilities(caps []string) error {
	for _, name := range caps {
		num, ok := capabilityByName[strings.ToUpper(name)]
		if !ok {
			continue
		}
		if err := unix.Prctl(prCapAmbient, prCapAmbientRaise, num, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

// applyNoNewPrivileges sets PR_SET_NO_NEW_PRIVS, blocking the exec'd
// process from ever gaining privileges via setuid/setgid/file
// capabilities, per spec.md §4.4 step ordering (applied before exec).
func applyNoNewPrivileges() error {
	return unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0)
}
