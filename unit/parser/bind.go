// Copyright 2015 Apcera Inc. All rights reserved.

package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anmitsu/go-shlex"

	"github.com/apcera/sysd/unit"
)

// Bind converts a merged rawFile into a unit.Unit for the given
// canonical name, applying specifier expansion with ctx along the way.
// path and dropins are recorded on the returned Unit for introspection.
func Bind(name, path string, dropins []string, raw rawFile, ctx unit.SpecifierContext) (*unit.Unit, error) {
	stem, kind, err := unit.SplitName(name)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}

	u := &unit.Unit{
		Name:     name,
		Kind:     kind,
		Instance: ctx.Instance,
		LoadPath: path,
		DropIns:  dropins,
		Section:  unit.NewSection(),
	}

	expand := func(s string) string { return unit.ExpandSpecifiers(s, name, ctx) }
	expandAll := func(ss []string) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = expand(s)
		}
		return out
	}

	if unitSec, ok := raw["UNIT"]; ok {
		if err := bindUnitSection(u, unitSec, expand, expandAll); err != nil {
			return nil, &ParseError{Path: path, Reason: err.Error()}
		}
	}
	if installSec, ok := raw["INSTALL"]; ok {
		u.Install = unit.Install{
			WantedBy:        expandAll(installSec.values("WANTEDBY")),
			RequiredBy:      expandAll(installSec.values("REQUIREDBY")),
			Alias:           expandAll(installSec.values("ALIAS")),
			Also:            expandAll(installSec.values("ALSO")),
		}
		if di, ok := installSec.value("DEFAULTINSTANCE"); ok {
			u.Install.DefaultInstance = expand(di)
		}
	}

	switch kind {
	case unit.KindService, unit.KindScope:
		svcSec := raw["SERVICE"]
		svc, err := bindService(svcSec, expand, expandAll)
		if err != nil {
			return nil, &ParseError{Path: path, Reason: err.Error()}
		}
		u.Service = svc
	case unit.KindSocket:
		sock, err := bindSocket(raw["SOCKET"], expand)
		if err != nil {
			return nil, &ParseError{Path: path, Reason: err.Error()}
		}
		u.Socket = sock
	case unit.KindTimer:
		t, err := bindTimer(raw["TIMER"], expand)
		if err != nil {
			return nil, &ParseError{Path: path, Reason: err.Error()}
		}
		u.Timer = t
	case unit.KindMount:
		u.Mount = bindMount(raw["MOUNT"], expand)
	}

	_ = stem
	applyDefaultDependencies(u)
	return u, nil
}

func bindUnitSection(u *unit.Unit, sec rawSection, expand func(string) string, expandAll func([]string) []string) error {
	if d, ok := sec.value("DESCRIPTION"); ok {
		u.Section.Description = expand(d)
	}
	u.Section.Documentation = expandAll(sec.values("DOCUMENTATION"))

	for _, ek := range []unit.EdgeKind{
		unit.EdgeAfter, unit.EdgeBefore, unit.EdgeRequires, unit.EdgeRequisite,
		unit.EdgeWants, unit.EdgeBindsTo, unit.EdgeConflicts, unit.EdgePartOf,
	} {
		key := strings.ToUpper(string(ek))
		if vs := expandAll(sec.values(key)); len(vs) > 0 {
			u.Section.Edges[ek] = vs
		}
	}

	u.Section.DefaultDependencies = true
	if v, ok := sec.value("DEFAULTDEPENDENCIES"); ok {
		b, err := unit.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DefaultDependencies=: %v", err)
		}
		u.Section.DefaultDependencies = b
	}

	if err := bindResourceControl(u, sec, expand); err != nil {
		return err
	}

	for _, directive := range []string{
		"CONDITIONPATHEXISTS", "CONDITIONPATHEXISTSGLOB", "CONDITIONFILENOTEMPTY",
		"CONDITIONDIRECTORYNOTEMPTY", "CONDITIONKERNELCOMMANDLINE",
		"ASSERTPATHEXISTS", "ASSERTFILENOTEMPTY",
	} {
		for _, raw := range sec.values(directive) {
			negate := strings.HasPrefix(raw, "!")
			if negate {
				raw = raw[1:]
			}
			u.Section.Conditions = append(u.Section.Conditions, unit.Condition{
				Directive: canonicalDirectiveName(directive),
				Value:     expand(raw),
				Negate:    negate,
				Assert:    strings.HasPrefix(directive, "ASSERT"),
			})
		}
	}
	return nil
}

// canonicalDirectiveName restores mixed-case directive spelling for
// the handful of Condition*/Assert* names bindUnitSection recognizes,
// since tokenize upper-cases every key for matching.
func canonicalDirectiveName(upper string) string {
	names := map[string]string{
		"CONDITIONPATHEXISTS":        "ConditionPathExists",
		"CONDITIONPATHEXISTSGLOB":    "ConditionPathExistsGlob",
		"CONDITIONFILENOTEMPTY":      "ConditionFileNotEmpty",
		"CONDITIONDIRECTORYNOTEMPTY": "ConditionDirectoryNotEmpty",
		"CONDITIONKERNELCOMMANDLINE": "ConditionKernelCommandLine",
		"ASSERTPATHEXISTS":           "AssertPathExists",
		"ASSERTFILENOTEMPTY":         "AssertFileNotEmpty",
	}
	if n, ok := names[upper]; ok {
		return n
	}
	return upper
}

// bindResourceControl parses the cgroup v2 directives common to
// service/scope/slice units, per spec.md §4.5.
func bindResourceControl(u *unit.Unit, sec rawSection, expand func(string) string) error {
	if v, ok := sec.value("CPUQUOTA"); ok {
		v = expand(v)
		if !strings.HasSuffix(v, "%") {
			return fmt.Errorf("CPUQuota=: %q missing trailing %%", v)
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil {
			return fmt.Errorf("CPUQuota=: %v", err)
		}
		u.Section.Resources.CPUQuota = f / 100.0
	}
	if v, ok := sec.value("MEMORYMAX"); ok {
		p, err := parseSizePtr(expand(v))
		if err != nil {
			return fmt.Errorf("MemoryMax=: %v", err)
		}
		u.Section.Resources.MemoryMax = p
	}
	if v, ok := sec.value("MEMORYHIGH"); ok {
		p, err := parseSizePtr(expand(v))
		if err != nil {
			return fmt.Errorf("MemoryHigh=: %v", err)
		}
		u.Section.Resources.MemoryHigh = p
	}
	if v, ok := sec.value("TASKSMAX"); ok {
		p, err := parseUintPtr(expand(v))
		if err != nil {
			return fmt.Errorf("TasksMax=: %v", err)
		}
		u.Section.Resources.TasksMax = p
	}
	if v, ok := sec.value("DELEGATE"); ok {
		b, err := unit.ParseBool(v)
		if err != nil {
			return fmt.Errorf("Delegate=: %v", err)
		}
		u.Section.Resources.Delegate = b
	}
	if v, ok := sec.value("SLICE"); ok {
		u.Section.Resources.Slice = expand(v)
	}
	return nil
}

func bindExecList(sec rawSection, key string, expand func(string) string) ([]unit.ExecCommand, error) {
	var cmds []unit.ExecCommand
	for _, raw := range sec.values(key) {
		raw = expand(raw)
		ignore := strings.HasPrefix(raw, "-")
		if ignore {
			raw = raw[1:]
		}
		parts, err := shlex.Split(raw, true)
		if err != nil {
			return nil, fmt.Errorf("%s=: %v", key, err)
		}
		if len(parts) == 0 {
			continue
		}
		cmds = append(cmds, unit.ExecCommand{
			Path:          parts[0],
			Args:          parts[1:],
			IgnoreFailure: ignore,
		})
	}
	return cmds, nil
}

func bindService(sec rawSection, expand func(string) string, expandAll func([]string) []string) (*unit.Service, error) {
	svc := unit.NewService()

	if v, ok := sec.value("TYPE"); ok {
		svc.Type = unit.ServiceType(v)
	}

	var err error
	if svc.ExecStartPre, err = bindExecList(sec, "EXECSTARTPRE", expand); err != nil {
		return nil, err
	}
	if svc.ExecStart, err = bindExecList(sec, "EXECSTART", expand); err != nil {
		return nil, err
	}
	if svc.ExecStartPost, err = bindExecList(sec, "EXECSTARTPOST", expand); err != nil {
		return nil, err
	}
	if svc.ExecStop, err = bindExecList(sec, "EXECSTOP", expand); err != nil {
		return nil, err
	}
	if svc.ExecStopPost, err = bindExecList(sec, "EXECSTOPPOST", expand); err != nil {
		return nil, err
	}
	if svc.ExecReload, err = bindExecList(sec, "EXECRELOAD", expand); err != nil {
		return nil, err
	}

	if v, ok := sec.value("RESTART"); ok {
		svc.Restart = unit.RestartPolicy(v)
	}
	if v, ok := sec.value("RESTARTSEC"); ok {
		if svc.RestartSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("RestartSec=: %v", err)
		}
	}
	if v, ok := sec.value("TIMEOUTSTARTSEC"); ok {
		if svc.TimeoutStartSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("TimeoutStartSec=: %v", err)
		}
	}
	if v, ok := sec.value("TIMEOUTSTOPSEC"); ok {
		if svc.TimeoutStopSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("TimeoutStopSec=: %v", err)
		}
	}
	if v, ok := sec.value("TIMEOUTSEC"); ok {
		// TimeoutSec= sets both start and stop timeouts, per the Open
		// Question resolution in DESIGN.md.
		d, err := unit.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TimeoutSec=: %v", err)
		}
		svc.TimeoutStartSec, svc.TimeoutStopSec = d, d
	}
	if v, ok := sec.value("KILLMODE"); ok {
		svc.KillMode = unit.KillMode(v)
	}
	if v, ok := sec.value("SENDSIGHUP"); ok {
		if svc.SendSIGHUP, err = unit.ParseBool(v); err != nil {
			return nil, fmt.Errorf("SendSIGHUP=: %v", err)
		}
	}
	if v, ok := sec.value("REMAINAFTEREXIT"); ok {
		if svc.RemainAfterExit, err = unit.ParseBool(v); err != nil {
			return nil, fmt.Errorf("RemainAfterExit=: %v", err)
		}
	}
	if v, ok := sec.value("WATCHDOGSEC"); ok {
		if svc.WatchdogSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("WatchdogSec=: %v", err)
		}
	}
	if v, ok := sec.value("NOTIFYACCESS"); ok {
		svc.NotifyAccess = unit.NotifyAccess(v)
	}
	for _, v := range sec.values("RESTARTPREVENTEXITSTATUS") {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		svc.RestartPreventExitStatus = append(svc.RestartPreventExitStatus, n)
	}

	if v, ok := sec.value("USER"); ok {
		svc.Identity.User = expand(v)
	}
	if v, ok := sec.value("GROUP"); ok {
		svc.Identity.Group = expand(v)
	}
	if v, ok := sec.value("DYNAMICUSER"); ok {
		if svc.Identity.DynamicUser, err = unit.ParseBool(v); err != nil {
			return nil, fmt.Errorf("DynamicUser=: %v", err)
		}
	}

	for _, kv := range sec.values("ENVIRONMENT") {
		parts, err := shlex.Split(expand(kv), true)
		if err != nil {
			return nil, fmt.Errorf("Environment=: %v", err)
		}
		for _, p := range parts {
			if k, v, ok := strings.Cut(p, "="); ok {
				svc.Environment[k] = v
			}
		}
	}
	svc.EnvironmentFile = expandAll(sec.values("ENVIRONMENTFILE"))
	svc.UnsetEnvironment = expandAll(sec.values("UNSETENVIRONMENT"))

	if v, ok := sec.value("WORKINGDIRECTORY"); ok {
		svc.WorkingDirectory = expand(v)
	}

	if v, ok := sec.value("STANDARDINPUT"); ok {
		svc.StdinTarget = unit.StdioTarget(v)
	}
	if v, ok := sec.value("STANDARDOUTPUT"); ok {
		svc.StdoutTarget = unit.StdioTarget(v)
	}
	if v, ok := sec.value("STANDARDERROR"); ok {
		svc.StderrTarget = unit.StdioTarget(v)
	}
	if v, ok := sec.value("TTYPATH"); ok {
		svc.TTYPath = expand(v)
	}

	if v, ok := sec.value("LIMITNOFILE"); ok {
		if svc.RLimits.NOFILE, err = parseUintPtr(v); err != nil {
			return nil, fmt.Errorf("LimitNOFILE=: %v", err)
		}
	}
	if v, ok := sec.value("LIMITNPROC"); ok {
		if svc.RLimits.NPROC, err = parseUintPtr(v); err != nil {
			return nil, fmt.Errorf("LimitNPROC=: %v", err)
		}
	}
	if v, ok := sec.value("LIMITCORE"); ok {
		if svc.RLimits.CORE, err = parseUintPtr(v); err != nil {
			return nil, fmt.Errorf("LimitCORE=: %v", err)
		}
	}
	if v, ok := sec.value("LIMITAS"); ok {
		if svc.RLimits.AS, err = parseUintPtr(v); err != nil {
			return nil, fmt.Errorf("LimitAS=: %v", err)
		}
	}
	if v, ok := sec.value("NICE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("Nice=: %v", err)
		}
		svc.RLimits.NICE = &n
	}
	if v, ok := sec.value("OOMSCOREADJUST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("OOMScoreAdjust=: %v", err)
		}
		svc.OOMScoreAdjust = &n
	}

	sb, err := bindSandbox(sec, expand)
	if err != nil {
		return nil, err
	}
	svc.Sandbox = sb

	if v, ok := sec.value("SLICE"); ok {
		svc.Slice = expand(v)
	}
	svc.Sockets = expandAll(sec.values("SOCKETS"))
	if v, ok := sec.value("BUSNAME"); ok {
		svc.BusName = expand(v)
	}
	if v, ok := sec.value("PIDFILE"); ok {
		svc.PIDFile = expand(v)
	}

	if v, ok := sec.value("STARTLIMITBURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("StartLimitBurst=: %v", err)
		}
		svc.StartLimit.Burst = n
	}
	if v, ok := sec.value("STARTLIMITINTERVALSEC"); ok {
		if svc.StartLimit.IntervalSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("StartLimitIntervalSec=: %v", err)
		}
	}
	if v, ok := sec.value("FILEDESCRIPTORSTOREMAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("FileDescriptorStoreMax=: %v", err)
		}
		svc.FileDescriptorStoreMax = n
	}

	return svc, nil
}

func parseUintPtr(v string) (*uint64, error) {
	if v == "infinity" {
		max := ^uint64(0)
		return &max, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseSizePtr(v string) (*uint64, error) {
	if v == "infinity" {
		max := ^uint64(0)
		return &max, nil
	}
	n, err := unit.ParseSize(v)
	if err != nil {
		return nil, err
	}
	u := uint64(n)
	return &u, nil
}

func bindSandbox(sec rawSection, expand func(string) string) (unit.Sandbox, error) {
	sb := unit.NewSandbox()
	var err error

	if v, ok := sec.value("PROTECTSYSTEM"); ok {
		sb.ProtectSystem = unit.ProtectSystem(v)
	}
	if v, ok := sec.value("PROTECTHOME"); ok {
		sb.ProtectHome = unit.ProtectHome(v)
	}
	boolFields := []struct {
		key string
		dst *bool
	}{
		{"PRIVATETMP", &sb.PrivateTmp}, {"PRIVATEDEVICES", &sb.PrivateDevices},
		{"PRIVATENETWORK", &sb.PrivateNetwork}, {"PROTECTKERNELMODULES", &sb.ProtectKernelModules},
		{"PROTECTKERNELTUNABLES", &sb.ProtectKernelTunables}, {"PROTECTKERNELLOGS", &sb.ProtectKernelLogs},
		{"PROTECTCONTROLGROUPS", &sb.ProtectControlGroups}, {"PROTECTCLOCK", &sb.ProtectClock},
		{"PROTECTHOSTNAME", &sb.ProtectHostname}, {"MEMORYDENYWRITEEXECUTE", &sb.MemoryDenyWriteExecute},
		{"LOCKPERSONALITY", &sb.LockPersonality}, {"RESTRICTREALTIME", &sb.RestrictRealtime},
		{"RESTRICTSUIDSGID", &sb.RestrictSUIDSGID}, {"NONEWPRIVILEGES", &sb.NoNewPrivileges},
	}
	for _, f := range boolFields {
		if v, ok := sec.value(f.key); ok {
			if *f.dst, err = unit.ParseBool(v); err != nil {
				return sb, fmt.Errorf("%s=: %v", f.key, err)
			}
		}
	}
	if v, ok := sec.value("PROTECTPROC"); ok {
		sb.ProtectProc = v
	}

	sb.ReadWritePaths = expandPaths(sec.values("READWRITEPATHS"), expand)
	sb.ReadOnlyPaths = expandPaths(sec.values("READONLYPATHS"), expand)
	sb.InaccessiblePaths = expandPaths(sec.values("INACCESSIBLEPATHS"), expand)
	sb.CapabilityBoundingSet = sec.values("CAPABILITYBOUNDINGSET")
	sb.AmbientCapabilities = sec.values("AMBIENTCAPABILITIES")
	sb.SystemCallFilter = sec.values("SYSTEMCALLFILTER")
	if v, ok := sec.value("SYSTEMCALLERRORNUMBER"); ok {
		sb.SystemCallErrorNumber = v
	}
	sb.SystemCallArchitectures = sec.values("SYSTEMCALLARCHITECTURES")
	sb.RestrictNamespaces = sec.values("RESTRICTNAMESPACES")
	sb.RestrictAddressFamilies = sec.values("RESTRICTADDRESSFAMILIES")

	if v, ok := sec.value("DEVICEPOLICY"); ok {
		sb.DevicePolicy = unit.DevicePolicy(v)
	}
	for _, v := range sec.values("DEVICEALLOW") {
		fields := strings.Fields(v)
		entry := unit.DeviceAllowEntry{Path: fields[0]}
		if len(fields) > 1 {
			entry.Perms = fields[1]
		} else {
			entry.Perms = "rwm"
		}
		sb.DeviceAllow = append(sb.DeviceAllow, entry)
	}

	for _, spec := range []struct {
		key string
		dst *[]unit.DirectorySpec
	}{
		{"RUNTIMEDIRECTORY", &sb.RuntimeDirectory}, {"STATEDIRECTORY", &sb.StateDirectory},
		{"CACHEDIRECTORY", &sb.CacheDirectory}, {"LOGSDIRECTORY", &sb.LogsDirectory},
		{"CONFIGURATIONDIRECTORY", &sb.ConfigurationDirectory},
	} {
		for _, p := range sec.values(spec.key) {
			*spec.dst = append(*spec.dst, unit.DirectorySpec{Path: expand(p), Mode: 0755, Preserve: spec.key == "STATEDIRECTORY" || spec.key == "CACHEDIRECTORY"})
		}
	}

	return sb, nil
}

func expandPaths(paths []string, expand func(string) string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = expand(p)
	}
	return out
}

func bindSocket(sec rawSection, expand func(string) string) (*unit.Socket, error) {
	sock := &unit.Socket{SocketMode: 0666}
	for _, kind := range []struct {
		key  string
		kind unit.ListenKind
	}{
		{"LISTENSTREAM", unit.ListenStream}, {"LISTENDATAGRAM", unit.ListenDatagram},
		{"LISTENSEQUENTIALPACKET", unit.ListenSequentialPacket}, {"LISTENFIFO", unit.ListenFIFO},
	} {
		for _, addr := range sec.values(kind.key) {
			sock.Listeners = append(sock.Listeners, unit.Listener{Kind: kind.kind, Address: expand(addr)})
		}
	}
	if v, ok := sec.value("ACCEPT"); ok {
		b, err := unit.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("Accept=: %v", err)
		}
		sock.Accept = b
	}
	if v, ok := sec.value("SERVICE"); ok {
		sock.Service = expand(v)
	}
	if v, ok := sec.value("SOCKETMODE"); ok {
		m, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("SocketMode=: %v", err)
		}
		sock.SocketMode = uint32(m)
	}
	if v, ok := sec.value("SOCKETUSER"); ok {
		sock.SocketUser = expand(v)
	}
	if v, ok := sec.value("SOCKETGROUP"); ok {
		sock.SocketGroup = expand(v)
	}
	return sock, nil
}

func bindTimer(sec rawSection, expand func(string) string) (*unit.Timer, error) {
	t := unit.NewTimer()
	var err error

	for _, v := range sec.values("ONCALENDAR") {
		spec, err := ParseCalendar(expand(v))
		if err != nil {
			return nil, fmt.Errorf("OnCalendar=: %v", err)
		}
		t.OnCalendar = append(t.OnCalendar, spec)
	}
	durFields := []struct {
		key string
		dst *unit.Timer
	}{}
	_ = durFields

	if v, ok := sec.value("ONBOOTSEC"); ok {
		if t.OnBootSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("OnBootSec=: %v", err)
		}
	}
	if v, ok := sec.value("ONSTARTUPSEC"); ok {
		if t.OnStartupSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("OnStartupSec=: %v", err)
		}
	}
	if v, ok := sec.value("ONACTIVESEC"); ok {
		if t.OnActiveSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("OnActiveSec=: %v", err)
		}
	}
	if v, ok := sec.value("ONUNITACTIVESEC"); ok {
		if t.OnUnitActiveSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("OnUnitActiveSec=: %v", err)
		}
	}
	if v, ok := sec.value("ONUNITINACTIVESEC"); ok {
		if t.OnUnitInactiveSec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("OnUnitInactiveSec=: %v", err)
		}
	}
	if v, ok := sec.value("PERSISTENT"); ok {
		if t.Persistent, err = unit.ParseBool(v); err != nil {
			return nil, fmt.Errorf("Persistent=: %v", err)
		}
	}
	if v, ok := sec.value("ACCURACYSEC"); ok {
		if t.AccuracySec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("AccuracySec=: %v", err)
		}
	}
	if v, ok := sec.value("RANDOMIZEDDELAYSEC"); ok {
		if t.RandomizedDelaySec, err = unit.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("RandomizedDelaySec=: %v", err)
		}
	}
	if v, ok := sec.value("UNIT"); ok {
		t.Unit = expand(v)
	}
	return t, nil
}

func bindMount(sec rawSection, expand func(string) string) *unit.Mount {
	m := &unit.Mount{}
	if v, ok := sec.value("WHAT"); ok {
		m.What = expand(v)
	}
	if v, ok := sec.value("WHERE"); ok {
		m.Where = expand(v)
	}
	if v, ok := sec.value("TYPE"); ok {
		m.Type = v
	}
	if v, ok := sec.value("OPTIONS"); ok {
		m.Options = v
	}
	return m
}
