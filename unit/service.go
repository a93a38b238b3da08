// Copyright 2015 Apcera Inc. All rights reserved.

package unit

import "time"

// ServiceType selects the readiness protocol used by the supervisor,
// per spec §4.3.
type ServiceType string

const (
	TypeSimple        ServiceType = "simple"
	TypeForking        ServiceType = "forking"
	TypeOneshot        ServiceType = "oneshot"
	TypeNotify         ServiceType = "notify"
	TypeNotifyReload   ServiceType = "notify-reload"
	TypeDBus           ServiceType = "dbus"
	TypeIdle           ServiceType = "idle"
)

// RestartPolicy selects when the supervisor restarts an exited service.
type RestartPolicy string

const (
	RestartNo         RestartPolicy = "no"
	RestartOnSuccess  RestartPolicy = "on-success"
	RestartOnFailure  RestartPolicy = "on-failure"
	RestartOnAbnormal RestartPolicy = "on-abnormal"
	RestartOnWatchdog RestartPolicy = "on-watchdog"
	RestartOnAbort    RestartPolicy = "on-abort"
	RestartAlways     RestartPolicy = "always"
)

// KillMode selects which processes receive the stop signal.
type KillMode string

const (
	KillControlGroup KillMode = "control-group"
	KillProcess      KillMode = "process"
	KillMixed        KillMode = "mixed"
	KillNone         KillMode = "none"
)

// NotifyAccess restricts which senders to the notify socket are
// honored.
type NotifyAccess string

const (
	NotifyNone NotifyAccess = "none"
	NotifyMain NotifyAccess = "main"
	NotifyExec NotifyAccess = "exec"
	NotifyAll  NotifyAccess = "all"
)

// StdioTarget selects where a stream is wired, per spec's "stdio spec".
type StdioTarget string

const (
	StdioInherit StdioTarget = "inherit"
	StdioNull    StdioTarget = "null"
	StdioTTY     StdioTarget = "tty"
	StdioJournal StdioTarget = "journal"
)

// ExecCommand is a single command in an Exec* directive list. A leading
// "-" on the path (stripped here, recorded in IgnoreFailure) means its
// exit status is not treated as a failure.
type ExecCommand struct {
	Path           string
	Args           []string
	IgnoreFailure  bool
}

// Identity holds the credentials a service execs under.
type Identity struct {
	User        string
	Group       string
	DynamicUser bool
}

// RLimits holds the setrlimit values the sandbox builder applies.
type RLimits struct {
	NOFILE *uint64
	NPROC  *uint64
	CORE   *uint64
	AS     *uint64
	NICE   *int64
}

// StartLimit is the restart rate-limit window, per spec §4.3.
type StartLimit struct {
	Burst        int
	IntervalSec  time.Duration
}

// Service is the [Service] section of a service unit.
type Service struct {
	Type ServiceType

	ExecStartPre  []ExecCommand
	ExecStart     []ExecCommand
	ExecStartPost []ExecCommand
	ExecStop      []ExecCommand
	ExecStopPost  []ExecCommand
	ExecReload    []ExecCommand

	Restart                   RestartPolicy
	RestartSec                time.Duration
	TimeoutStartSec           time.Duration
	TimeoutStopSec            time.Duration
	KillMode                  KillMode
	SendSIGHUP                bool
	RemainAfterExit           bool
	WatchdogSec               time.Duration
	NotifyAccess              NotifyAccess
	RestartPreventExitStatus  []int

	Identity Identity

	Environment     map[string]string
	EnvironmentFile []string
	UnsetEnvironment []string

	WorkingDirectory string

	StdinTarget  StdioTarget
	StdoutTarget StdioTarget
	StderrTarget StdioTarget
	TTYPath      string

	RLimits RLimits
	OOMScoreAdjust *int

	Sandbox Sandbox

	Slice      string
	Sockets    []string
	BusName    string
	PIDFile    string

	StartLimit StartLimit

	FileDescriptorStoreMax int
}

// NewService returns a Service with the directive defaults spec.md §3/
// §4.3 describes (Type=simple, Restart=no, control-group kill, 90s
// timeouts, and a start limit of 5 starts per 10s window).
func NewService() *Service {
	return &Service{
		Type:            TypeSimple,
		Restart:         RestartNo,
		RestartSec:      100 * time.Millisecond,
		TimeoutStartSec: 90 * time.Second,
		TimeoutStopSec:  90 * time.Second,
		KillMode:        KillControlGroup,
		NotifyAccess:    NotifyMain,
		StdinTarget:     StdioNull,
		StdoutTarget:    StdioJournal,
		StderrTarget:    StdioJournal,
		Environment:     make(map[string]string),
		StartLimit: StartLimit{
			Burst:       5,
			IntervalSec: 10 * time.Second,
		},
	}
}

// ShouldRestart decides, per spec §4.3's restart-policy table, whether
// an exit with the given classification should trigger a restart. The
// caller is responsible for checking RestartPreventExitStatus first.
func (s *Service) ShouldRestart(class ExitClass) bool {
	switch s.Restart {
	case RestartAlways:
		return true
	case RestartOnSuccess:
		return class == ExitClean
	case RestartOnFailure:
		return class == ExitNonZero || class == ExitSignal || class == ExitTimeout || class == ExitWatchdog
	case RestartOnAbnormal:
		return class == ExitSignal || class == ExitTimeout || class == ExitWatchdog
	case RestartOnAbort:
		return class == ExitAbort
	case RestartOnWatchdog:
		return class == ExitWatchdog
	default: // RestartNo or unrecognized
		return false
	}
}

// ExitClass classifies how a service process exited, feeding both the
// restart policy and the failure reason recorded in RuntimeState.
type ExitClass string

const (
	ExitClean    ExitClass = "clean"    // status 0
	ExitNonZero  ExitClass = "exit-code"
	ExitSignal   ExitClass = "signal"
	ExitAbort    ExitClass = "abort" // SIGABRT specifically
	ExitTimeout  ExitClass = "timeout"
	ExitWatchdog ExitClass = "watchdog"
)
