// Copyright 2015 Apcera Inc. All rights reserved.

// Package generator synthesizes unit files from external system
// configuration that predates unit files, the way systemd's own
// generators (systemd-fstab-generator, systemd-cryptsetup-generator)
// run once at early boot and drop their output into a transient unit
// directory ahead of the regular search path: the transient directory
// that parser.DefaultSearchPath puts first.
package generator

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FstabEntry is a single parsed line of /etc/fstab.
type FstabEntry struct {
	FSSpec     string // device, UUID=, LABEL=, or path to mount
	MountPoint string
	FSType     string
	Options    string
	Dump       int
	Pass       int
}

// IsSwap reports whether this entry describes a swap area rather than
// a mountable filesystem.
func (e FstabEntry) IsSwap() bool {
	return e.FSType == "swap" || e.MountPoint == "none" || e.MountPoint == "swap"
}

// IsAuto reports whether this entry should be mounted at boot, i.e.
// its options don't include "noauto".
func (e FstabEntry) IsAuto() bool {
	for _, o := range strings.Split(e.Options, ",") {
		if strings.TrimSpace(o) == "noauto" {
			return false
		}
	}
	return true
}

// IsNetwork reports whether this is a network filesystem, which needs
// to order after network-online.target rather than local-fs-pre.target.
func (e FstabEntry) IsNetwork() bool {
	switch e.FSType {
	case "nfs", "nfs4", "cifs", "smbfs", "ncpfs", "fuse.sshfs":
		return true
	}
	for _, o := range strings.Split(e.Options, ",") {
		if strings.TrimSpace(o) == "_netdev" {
			return true
		}
	}
	return false
}

// IsBind reports whether this entry is a bind or rbind mount, whose
// source is itself a mount point rather than a device or filesystem.
func (e FstabEntry) IsBind() bool {
	for _, o := range strings.Split(e.Options, ",") {
		o = strings.TrimSpace(o)
		if o == "bind" || o == "rbind" {
			return true
		}
	}
	return false
}

// ParseFstab reads and parses an fstab-formatted file.
func ParseFstab(path string) ([]FstabEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []FstabEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		e := FstabEntry{
			FSSpec:     fields[0],
			MountPoint: fields[1],
			FSType:     fields[2],
			Options:    fields[3],
		}
		if len(fields) > 4 {
			e.Dump, _ = strconv.Atoi(fields[4])
		}
		if len(fields) > 5 {
			e.Pass, _ = strconv.Atoi(fields[5])
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MountUnitName mangles a mount point path into the "<stem>.mount"
// form systemd uses: "/" becomes "-.mount", every other "/" becomes
// "-", and leading/trailing slashes are stripped.
func MountUnitName(mountPoint string) string {
	if mountPoint == "/" {
		return "-.mount"
	}
	stem := strings.Trim(mountPoint, "/")
	stem = strings.ReplaceAll(stem, "/", "-")
	return stem + ".mount"
}

// renderedMount is a synthesized .mount unit file's content, ready to
// be written under a generator directory.
type renderedMount struct {
	name string
	body string
}

// toMountUnit renders an fstab entry into .mount unit file text,
// mirroring systemd-fstab-generator's dependency choices: network
// filesystems order after network-online.target, the root filesystem
// carries no default dependencies (it's already mounted by the time
// any unit runs), other mounts order after local-fs-pre.target, and
// bind mounts additionally require and order after their source mount.
func toMountUnit(e FstabEntry) renderedMount {
	name := MountUnitName(e.MountPoint)

	var unitLines []string
	unitLines = append(unitLines, fmt.Sprintf("Description=Mount %s", e.MountPoint))

	switch {
	case e.MountPoint == "/":
		unitLines = append(unitLines, "DefaultDependencies=no")
	case e.IsNetwork():
		unitLines = append(unitLines, "After=network-online.target")
		unitLines = append(unitLines, "Wants=network-online.target")
	default:
		unitLines = append(unitLines, "After=local-fs-pre.target")
	}

	if e.IsBind() {
		source := MountUnitName(e.FSSpec)
		unitLines = append(unitLines, fmt.Sprintf("Requires=%s", source))
		unitLines = append(unitLines, fmt.Sprintf("After=%s", source))
	}

	var mountLines []string
	mountLines = append(mountLines, fmt.Sprintf("What=%s", e.FSSpec))
	mountLines = append(mountLines, fmt.Sprintf("Where=%s", e.MountPoint))
	if e.FSType != "" && e.FSType != "auto" {
		mountLines = append(mountLines, fmt.Sprintf("Type=%s", e.FSType))
	}
	if e.Options != "" && e.Options != "defaults" {
		mountLines = append(mountLines, fmt.Sprintf("Options=%s", e.Options))
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	for _, l := range unitLines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("\n[Mount]\n")
	for _, l := range mountLines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	return renderedMount{name: name, body: b.String()}
}

// GenerateMountUnits parses fstabPath and writes a .mount unit file
// into outDir for every entry that should be mounted at boot,
// excluding swap areas and anything marked noauto. outDir is expected
// to be the transient generator directory at the front of the unit
// search path, so the registry picks these up on its next reload
// without the caller needing to touch /etc/systemd/system.
//
// It returns the canonical names of the units it wrote.
func GenerateMountUnits(fstabPath, outDir string) ([]string, error) {
	entries, err := ParseFstab(fstabPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsSwap() || !e.IsAuto() {
			continue
		}
		mu := toMountUnit(e)
		if err := os.WriteFile(filepath.Join(outDir, mu.name), []byte(mu.body), 0644); err != nil {
			return nil, err
		}
		names = append(names, mu.name)
	}
	return names, nil
}
