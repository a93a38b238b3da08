// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"fmt"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// This file hand-assembles a classic BPF seccomp filter. The original
// implementation this was translated from builds its filters with
// Rust's seccompiler crate, which supports per-argument rules; no
// third-party Go library for constructing seccomp-bpf programs turned
// up anywhere in the retrieved examples, so the filter here is built
// directly on golang.org/x/sys/unix's raw BPF types. As a deliberate
// simplification (documented as an Open Question decision), every
// directive below resolves to an unconditional deny-by-syscall-number:
// there is no per-argument rule matching, so e.g. RestrictSUIDSGID
// denies chmod/fchmod/fchmodat outright rather than only the calls that
// set the setuid/setgid bits.

// classic BPF opcodes, from linux/filter.h. Named individually rather
// than building a BPF_STMT/BPF_JUMP macro pair since the program below
// is small and fixed-shape.
const (
	bpfLdW  = 0x00 | 0x20 // BPF_LD | BPF_W | BPF_ABS
	bpfJeqK = 0x05 | 0x10 // BPF_JMP | BPF_JEQ | BPF_K
	bpfRetK = 0x06        // BPF_RET | BPF_K
)

// seccomp_data field offsets on x86_64 (struct seccomp_data { int nr;
// __u32 arch; __u64 instruction_pointer; __u64 args[6]; }).
const (
	seccompDataNrOff   = 0
	seccompDataArchOff = 4
)

// auditArchX86_64 is AUDIT_ARCH_X86_64 (EM_X86_64 | __AUDIT_ARCH_64BIT |
// __AUDIT_ARCH_LE), the only architecture sysd's filters target.
const auditArchX86_64 = 0xC000003E

const (
	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000
)

// syscallByName is the subset of syscall names SystemCallFilter= and
// the restrict-* directives resolve to. Intentionally partial: names
// not found here are skipped rather than erroring, since an exhaustive
// table would duplicate the kernel's entire syscall table for little
// benefit over what the restrict-* directives already cover directly.
var syscallByName = map[string]int{
	"mount":             unix.SYS_MOUNT,
	"umount2":           unix.SYS_UMOUNT2,
	"pivot_root":        unix.SYS_PIVOT_ROOT,
	"reboot":            unix.SYS_REBOOT,
	"kexec_load":        unix.SYS_KEXEC_LOAD,
	"acct":              unix.SYS_ACCT,
	"swapon":            unix.SYS_SWAPON,
	"swapoff":           unix.SYS_SWAPOFF,
	"ptrace":            unix.SYS_PTRACE,
	"iopl":              unix.SYS_IOPL,
	"ioperm":            unix.SYS_IOPERM,
	"init_module":       unix.SYS_INIT_MODULE,
	"finit_module":      unix.SYS_FINIT_MODULE,
	"delete_module":     unix.SYS_DELETE_MODULE,
	"clone":             unix.SYS_CLONE,
	"unshare":           unix.SYS_UNSHARE,
	"setns":             unix.SYS_SETNS,
	"socket":            unix.SYS_SOCKET,
	"personality":       unix.SYS_PERSONALITY,
	"sched_setscheduler": unix.SYS_SCHED_SETSCHEDULER,
	"chmod":             unix.SYS_CHMOD,
	"fchmod":            unix.SYS_FCHMOD,
	"fchmodat":          unix.SYS_FCHMODAT,
	"adjtimex":          unix.SYS_ADJTIMEX,
	"settimeofday":      unix.SYS_SETTIMEOFDAY,
	"clock_settime":     unix.SYS_CLOCK_SETTIME,
	"clock_adjtime":     unix.SYS_CLOCK_ADJTIME,
	"sethostname":       unix.SYS_SETHOSTNAME,
	"setdomainname":     unix.SYS_SETDOMAINNAME,
}

// namespaceUnshareSyscalls are the syscalls RestrictNamespaces denies,
// since clone/unshare/setns are how a process acquires namespaces.
var namespaceUnshareSyscalls = []int{unix.SYS_CLONE, unix.SYS_UNSHARE, unix.SYS_SETNS}

// resolveDenylist turns a Sandbox's seccomp-relevant directives into a
// deduplicated set of syscall numbers to deny, per spec.md §4.4 step
// 13.
func resolveDenylist(sb unit.Sandbox) []int {
	seen := map[int]bool{}
	var nrs []int
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			nrs = append(nrs, n)
		}
	}

	for _, name := range sb.SystemCallFilter {
		name = strings.TrimPrefix(name, "~")
		if nr, ok := syscallByName[strings.ToLower(name)]; ok {
			add(nr)
		}
	}
	if len(sb.RestrictNamespaces) > 0 {
		for _, nr := range namespaceUnshareSyscalls {
			add(nr)
		}
	}
	if len(sb.RestrictAddressFamilies) > 0 {
		add(unix.SYS_SOCKET)
	}
	if sb.RestrictRealtime {
		add(unix.SYS_SCHED_SETSCHEDULER)
	}
	if sb.LockPersonality {
		add(unix.SYS_PERSONALITY)
	}
	if sb.RestrictSUIDSGID {
		add(unix.SYS_CHMOD)
		add(unix.SYS_FCHMOD)
		add(unix.SYS_FCHMODAT)
	}
	if sb.ProtectClock {
		add(unix.SYS_ADJTIMEX)
		add(unix.SYS_SETTIMEOFDAY)
		add(unix.SYS_CLOCK_SETTIME)
		add(unix.SYS_CLOCK_ADJTIME)
	}
	if sb.ProtectHostname {
		add(unix.SYS_SETHOSTNAME)
		add(unix.SYS_SETDOMAINNAME)
	}
	if sb.ProtectKernelModules {
		add(unix.SYS_INIT_MODULE)
		add(unix.SYS_FINIT_MODULE)
		add(unix.SYS_DELETE_MODULE)
	}
	return nrs
}

func resolveErrno(sb unit.Sandbox) uint32 {
	if sb.SystemCallErrorNumber == "" {
		return uint32(unix.EPERM)
	}
	if n, err := strconv.Atoi(sb.SystemCallErrorNumber); err == nil {
		return uint32(n)
	}
	if errno, ok := errnoByName[strings.ToUpper(sb.SystemCallErrorNumber)]; ok {
		return uint32(errno)
	}
	return uint32(unix.EPERM)
}

var errnoByName = map[string]unix.Errno{
	"EPERM":  unix.EPERM,
	"EACCES": unix.EACCES,
	"ENOSYS": unix.ENOSYS,
}

// installSeccompFilter assembles and loads a BPF program denying every
// syscall resolveDenylist names, returning SystemCallErrorNumber for
// each, ALLOW for everything else, and KILL_PROCESS for any
// architecture other than x86_64.
func installSeccompFilter(sb unit.Sandbox) error {
	denylist := resolveDenylist(sb)
	if len(denylist) == 0 {
		return nil
	}
	if len(denylist) > 200 {
		return fmt.Errorf("seccomp denylist too large (%d entries)", len(denylist))
	}

	errnoRet := seccompRetErrno | resolveErrno(sb)
	k := len(denylist)

	prog := make([]unix.SockFilter, 0, 3+k+3)

	// 0: load arch
	prog = append(prog, unix.SockFilter{Code: bpfLdW, K: seccompDataArchOff})
	// 1: if arch != x86_64, jump to BAD_ARCH (index 3+k+2, computed below)
	badArchJump := uint8(k + 3)
	prog = append(prog, unix.SockFilter{Code: bpfJeqK, Jt: 0, Jf: badArchJump, K: auditArchX86_64})
	// 2: load syscall number
	prog = append(prog, unix.SockFilter{Code: bpfLdW, K: seccompDataNrOff})

	for i, nr := range denylist {
		jt := uint8(k - i)
		prog = append(prog, unix.SockFilter{Code: bpfJeqK, Jt: jt, Jf: 0, K: uint32(nr)})
	}

	// ALLOW (fallthrough when no syscall matched)
	prog = append(prog, unix.SockFilter{Code: bpfRetK, K: seccompRetAllow})
	// DENY (jump target for a matched syscall)
	prog = append(prog, unix.SockFilter{Code: bpfRetK, K: errnoRet})
	// BAD_ARCH (jump target when the arch check fails)
	prog = append(prog, unix.SockFilter{Code: bpfRetK, K: 0x80000000}) // SECCOMP_RET_KILL_PROCESS

	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}

	const (
		prSetSeccomp     = 22
		seccompModeFilter = 2
	)
	if err := unix.Prctl(prSetSeccomp, seccompModeFilter, uintptr(unsafe.Pointer(&fprog)), 0, 0); err != nil {
		return fmt.Errorf("PR_SET_SECCOMP: %w", err)
	}
	return nil
}
