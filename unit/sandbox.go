// Copyright 2015 Apcera Inc. All rights reserved.

package unit

// ProtectSystem selects how much of the read-only system surface a
// service's mount namespace exposes.
type ProtectSystem string

const (
	ProtectSystemNo     ProtectSystem = "no"
	ProtectSystemYes    ProtectSystem = "yes"
	ProtectSystemFull   ProtectSystem = "full"
	ProtectSystemStrict ProtectSystem = "strict"
)

// ProtectHome selects how /home, /root, and /run/user are masked.
type ProtectHome string

const (
	ProtectHomeNo       ProtectHome = "no"
	ProtectHomeYes      ProtectHome = "yes"
	ProtectHomeReadOnly ProtectHome = "read-only"
	ProtectHomeTmpfs    ProtectHome = "tmpfs"
)

// DevicePolicy governs the cgroup device allowlist/denylist.
type DevicePolicy string

const (
	DevicePolicyAuto   DevicePolicy = "auto"
	DevicePolicyClosed DevicePolicy = "closed"
	DevicePolicyStrict DevicePolicy = "strict"
)

// DeviceAllowEntry is one DeviceAllow= directive value.
type DeviceAllowEntry struct {
	Path string // e.g. "/dev/null" or "char-*"
	Perms string // subset of "rwm"
}

// DirectorySpec describes a RuntimeDirectory=/StateDirectory=/etc.
// entry: the relative path under the well-known root, its mode, and
// whether it survives across restarts.
type DirectorySpec struct {
	Path     string
	Mode     uint32
	Preserve bool
}

// Sandbox holds the directives applied between fork and exec, per
// spec §3 "Sandbox directives" and §4.4.
type Sandbox struct {
	ProtectSystem ProtectSystem
	ProtectHome   ProtectHome

	PrivateTmp             bool
	PrivateDevices         bool
	PrivateNetwork         bool
	ProtectKernelModules   bool
	ProtectKernelTunables  bool
	ProtectKernelLogs      bool
	ProtectControlGroups   bool
	ProtectClock           bool
	ProtectHostname        bool
	ProtectProc            string // "default", "invisible", "ptraceable", "noaccess"
	MemoryDenyWriteExecute bool
	LockPersonality        bool
	RestrictRealtime       bool
	RestrictSUIDSGID       bool

	ReadWritePaths    []string
	ReadOnlyPaths     []string
	InaccessiblePaths []string

	CapabilityBoundingSet []string
	AmbientCapabilities   []string
	NoNewPrivileges       bool

	SystemCallFilter       []string // may contain a leading "~" for a denylist
	SystemCallErrorNumber  string   // default "EPERM"
	SystemCallArchitectures []string
	RestrictNamespaces      []string // namespace flag names to deny, or "" for "deny all"
	RestrictAddressFamilies []string

	DevicePolicy DevicePolicy
	DeviceAllow  []DeviceAllowEntry

	RuntimeDirectory       []DirectorySpec
	StateDirectory         []DirectorySpec
	CacheDirectory         []DirectorySpec
	LogsDirectory          []DirectorySpec
	ConfigurationDirectory []DirectorySpec
}

// NeedsMountNamespace reports whether any configured directive requires
// the sandbox builder to unshare a mount namespace before exec, per
// spec §4.4 step 5 and SPEC_FULL.md §8.
func (s *Sandbox) NeedsMountNamespace() bool {
	if s.ProtectSystem != "" && s.ProtectSystem != ProtectSystemNo {
		return true
	}
	if s.ProtectHome != "" && s.ProtectHome != ProtectHomeNo {
		return true
	}
	if s.PrivateTmp || s.PrivateDevices {
		return true
	}
	if s.DevicePolicy != "" && s.DevicePolicy != DevicePolicyAuto {
		return true
	}
	if s.ProtectProc != "" && s.ProtectProc != "default" {
		return true
	}
	if len(s.ReadOnlyPaths)+len(s.ReadWritePaths)+len(s.InaccessiblePaths) > 0 {
		return true
	}
	if s.ProtectControlGroups || s.ProtectKernelTunables || s.ProtectKernelLogs {
		return true
	}
	return false
}

// NeedsSeccomp reports whether any configured directive requires the
// sandbox builder to install a seccomp filter, per spec §4.4 step 13.
func (s *Sandbox) NeedsSeccomp() bool {
	if len(s.SystemCallFilter) > 0 || len(s.SystemCallArchitectures) > 0 {
		return true
	}
	if len(s.RestrictNamespaces) > 0 || len(s.RestrictAddressFamilies) > 0 {
		return true
	}
	return s.RestrictRealtime || s.LockPersonality || s.RestrictSUIDSGID ||
		s.ProtectClock || s.ProtectHostname || s.ProtectKernelModules
}

// NewSandbox returns the directive defaults: no protection applied,
// auto device policy, EPERM for denied syscalls.
func NewSandbox() Sandbox {
	return Sandbox{
		ProtectSystem:          ProtectSystemNo,
		ProtectHome:            ProtectHomeNo,
		ProtectProc:            "default",
		DevicePolicy:           DevicePolicyAuto,
		SystemCallErrorNumber:  "EPERM",
	}
}
