// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/apcera/sysd/unit"
)

// DynamicUIDResolver looks up the uid sysd's dynuser package allocated
// for a DynamicUser=yes unit. The supervisor wires dynuser.Allocate
// here; sandbox itself has no notion of the allocation table.
type DynamicUIDResolver func(unitName string) (uid, gid uint32, err error)

// BuildConfig resolves a unit's [Service] directives into a Config
// ready to hand to Launcher.Launch. cmd is the already-selected
// ExecCommand (ExecStart has one or more; the caller picks which).
func BuildConfig(unitName string, svc *unit.Service, cmd unit.ExecCommand, cgroupPath string, resolveDynamicUser DynamicUIDResolver) (*Config, error) {
	cfg := &Config{
		UnitName:         unitName,
		Command:          cmd,
		Argv0:            cmd.Path,
		Identity:         svc.Identity,
		WorkingDirectory: svc.WorkingDirectory,
		Environment:      flattenEnvironment(svc.Environment),
		RLimits:          svc.RLimits,
		Sandbox:          svc.Sandbox,
		CgroupPath:       cgroupPath,
		RootDir:          "/",
	}

	uid, gid, supp, err := resolveIdentity(svc.Identity, unitName, resolveDynamicUser)
	if err != nil {
		return nil, fmt.Errorf("resolving identity for %s: %w", unitName, err)
	}
	cfg.ResolvedUID = uid
	cfg.ResolvedGID = gid
	cfg.SupplementaryGID = supp

	return cfg, nil
}

func resolveIdentity(id unit.Identity, unitName string, resolveDynamicUser DynamicUIDResolver) (uid, gid uint32, supplementary []uint32, err error) {
	if id.DynamicUser {
		if resolveDynamicUser == nil {
			return 0, 0, nil, fmt.Errorf("DynamicUser=yes but no resolver configured")
		}
		u, g, err := resolveDynamicUser(unitName)
		if err != nil {
			return 0, 0, nil, err
		}
		return u, g, nil, nil
	}

	if id.User == "" && id.Group == "" {
		return 0, 0, nil, nil
	}

	var uidNum, gidNum uint32
	var groupIDs []string

	if id.User != "" {
		u, err := lookupUser(id.User)
		if err != nil {
			return 0, 0, nil, err
		}
		n, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
		}
		uidNum = uint32(n)

		gn, err := strconv.ParseUint(u.Gid, 10, 32)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("parsing gid %q: %w", u.Gid, err)
		}
		gidNum = uint32(gn)

		if groupIDs, err = groupIDsOf(u); err != nil {
			return 0, 0, nil, err
		}
	}

	if id.Group != "" {
		g, err := lookupGroup(id.Group)
		if err != nil {
			return 0, 0, nil, err
		}
		n, err := strconv.ParseUint(g.Gid, 10, 32)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("parsing gid %q: %w", g.Gid, err)
		}
		gidNum = uint32(n)
	}

	supp = make([]uint32, 0, len(groupIDs))
	for _, g := range groupIDs {
		n, err := strconv.ParseUint(g, 10, 32)
		if err != nil {
			continue
		}
		if uint32(n) != gidNum {
			supp = append(supp, uint32(n))
		}
	}

	return uidNum, gidNum, supp, nil
}

func flattenEnvironment(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

var (
	lookupUser  = user.Lookup
	lookupGroup = user.LookupGroup

	// groupIDsOf is a seam over (*user.User).GroupIds, which otherwise
	// queries the real system group database by username - not
	// meaningful for the synthetic *user.User values tests construct.
	groupIDsOf = func(u *user.User) ([]string, error) { return u.GroupIds() }
)
