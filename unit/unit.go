// Copyright 2015 Apcera Inc. All rights reserved.

// Package unit holds the declarative data model that the rest of sysd
// operates on: the parsed representation of a unit file plus the
// runtime state the supervisor and job engine attach to it.
package unit

import (
	"fmt"
	"strings"
)

// Kind identifies the category of a unit, taken from its filename
// suffix.
type Kind string

const (
	KindService Kind = "service"
	KindSocket  Kind = "socket"
	KindTimer   Kind = "timer"
	KindMount   Kind = "mount"
	KindTarget  Kind = "target"
	KindSlice   Kind = "slice"
	KindScope   Kind = "scope"
)

// LoadState describes whether a unit's definition was found and parsed
// successfully.
type LoadState string

const (
	LoadStub     LoadState = "stub"
	LoadLoaded   LoadState = "loaded"
	LoadNotFound LoadState = "not-found"
	LoadError    LoadState = "error"
)

// ActiveState is the top-level runtime state of a unit, per spec §4.3.
type ActiveState string

const (
	StateInactive     ActiveState = "inactive"
	StateActivating   ActiveState = "activating"
	StateActive       ActiveState = "active"
	StateReloading    ActiveState = "reloading"
	StateDeactivating ActiveState = "deactivating"
	StateFailed       ActiveState = "failed"
)

// EdgeKind distinguishes the different dependency relations a unit can
// carry in its [Unit] section.
type EdgeKind string

const (
	EdgeAfter     EdgeKind = "After"
	EdgeBefore    EdgeKind = "Before"
	EdgeRequires  EdgeKind = "Requires"
	EdgeRequisite EdgeKind = "Requisite"
	EdgeWants     EdgeKind = "Wants"
	EdgeBindsTo   EdgeKind = "BindsTo"
	EdgeConflicts EdgeKind = "Conflicts"
	EdgePartOf    EdgeKind = "PartOf"
)

// Install holds the [Install] section, which drives enable/disable
// symlink creation.
type Install struct {
	WantedBy   []string
	RequiredBy []string
	Alias      []string
	Also       []string
	DefaultInstance string
}

// Condition is a single Condition*/Assert* predicate parsed from the
// [Unit] section. Negate corresponds to a leading "!" on the value.
type Condition struct {
	Directive string // e.g. "ConditionPathExists"
	Value     string
	Negate    bool
	Assert    bool // true for Assert* directives
}

// Section holds the common [Unit] directives shared by every unit kind.
type Section struct {
	Description         string
	Documentation        []string
	Edges                map[EdgeKind][]string
	DefaultDependencies  bool // defaults to true at parse time
	Conditions           []Condition
	Resources            ResourceControl
}

// ResourceControl holds the cgroup v2 accounting/limit directives,
// recognized on every cgroup-backed unit kind (service, scope, slice),
// per spec.md §4.5.
type ResourceControl struct {
	// CPUQuota is the fraction of a single CPU (1.0 == 100%) a unit's
	// cgroup may use, or 0 if unset. "CPUQuota=20%" parses to 0.20.
	CPUQuota float64

	MemoryMax  *uint64
	MemoryHigh *uint64
	TasksMax   *uint64

	// Delegate stops the manager from writing limit files itself, per
	// spec.md §4.5. The cgroup is still created, and its ownership and
	// permissions are left unchanged.
	Delegate bool

	// Slice is the parent slice this unit's cgroup nests under, e.g.
	// "system.slice" or "user-1000.slice".
	Slice string
}

// NewSection returns a zero Section with DefaultDependencies on and the
// edge map initialized, matching what the parser always produces.
func NewSection() Section {
	return Section{
		Edges:               make(map[EdgeKind][]string),
		DefaultDependencies: true,
	}
}

// RuntimeState is the mutable, in-memory runtime status attached to a
// loaded unit. The unit model itself is immutable once parsed; this is
// what the supervisor and job engine mutate.
type RuntimeState struct {
	Load   LoadState
	Active ActiveState
	Sub    string // kind-specific substate, e.g. "running", "dead", "listening"

	MainPID    int
	CgroupPath string

	LastExitCode   int
	LastExitSignal int
	FailureReason  string // "protocol", "timeout", "exit-code", "signal", "watchdog", "start-limit", "condition", "assert", "exec-setup", "dependency"

	RestartCount int
	// RestartWindowStart anchors the StartLimitIntervalSec rate-limit
	// window; restart counters reset when now - RestartWindowStart
	// exceeds the configured interval.
	RestartWindowStart int64
}

// Unit is the canonical, fully-resolved representation of a single unit
// file (after drop-in merge and template instantiation).
type Unit struct {
	Name string // canonical "<stem>.<kind>"
	Kind Kind

	// Instance is the "%i" value for a template instantiation; empty
	// for non-template units.
	Instance string

	Aliases []string

	// LoadPath is the base unit file this Unit was parsed from; DropIns
	// lists the drop-in files merged on top of it, in application order.
	LoadPath string
	DropIns  []string

	Section Section
	Install Install

	Service *Service
	Socket  *Socket
	Timer   *Timer
	Mount   *Mount

	Runtime RuntimeState
}

// Stem returns the portion of Name before the final ".<kind>".
func (u *Unit) Stem() string {
	return strings.TrimSuffix(u.Name, "."+string(u.Kind))
}

// IsTemplate reports whether this unit's stem ends in "@" with no bound
// instance, meaning it cannot be started directly.
func (u *Unit) IsTemplate() bool {
	stem := u.Stem()
	return strings.HasSuffix(stem, "@") && u.Instance == ""
}

// CanonicalName builds "<stem>.<kind>" from parts, the form every
// lookup in the registry and resolver normalizes to.
func CanonicalName(stem string, kind Kind) string {
	return fmt.Sprintf("%s.%s", stem, kind)
}

// SplitName splits a unit name into its stem and kind. It returns an
// error if name has no recognized "."+kind suffix.
func SplitName(name string) (stem string, kind Kind, err error) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("unit name %q has no kind suffix", name)
	}
	stem, k := name[:idx], Kind(name[idx+1:])
	switch k {
	case KindService, KindSocket, KindTimer, KindMount, KindTarget, KindSlice, KindScope:
		return stem, k, nil
	default:
		return "", "", fmt.Errorf("unit name %q has unknown kind %q", name, k)
	}
}

// TemplateStem returns the "<name>@" stem for a template unit, and the
// instance portion, given a possibly-instantiated name such as
// "foo@bar.service". ok is false if name is not a template instance.
func TemplateStem(stem string) (base string, instance string, ok bool) {
	at := strings.Index(stem, "@")
	if at < 0 {
		return stem, "", false
	}
	return stem[:at+1], stem[at+1:], true
}
