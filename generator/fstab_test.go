// Copyright 2015 Apcera Inc. All rights reserved.

package generator

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"
)

const sampleFstab = `
# /etc/fstab: static file system information.
#
# <file system>  <mount point>  <type>  <options>       <dump>  <pass>

UUID=12345678-1234-1234-1234-123456789abc  /  ext4  defaults  0  1
/dev/sda1  /boot  ext4  defaults  0  2
UUID=abcdef12-3456-7890-abcd-ef1234567890  /home  ext4  defaults,noatime  0  2
/dev/sda2  none  swap  sw  0  0
tmpfs  /tmp  tmpfs  defaults,noatime,mode=1777  0  0
server:/export  /mnt/nfs  nfs  defaults,_netdev  0  0
/dev/sdb1  /mnt/usb  ext4  noauto,user  0  0
/home/user/data  /srv/data  none  bind  0  0
`

func writeFstab(t *testing.T) string {
	dir := TempDir(t)
	path := filepath.Join(dir, "fstab")
	TestExpectSuccess(t, os.WriteFile(path, []byte(sampleFstab), 0644))
	return path
}

func TestParseFstabCountsEntries(t *testing.T) {
	path := writeFstab(t)
	entries, err := ParseFstab(path)
	TestExpectSuccess(t, err)
	TestEqual(t, len(entries), 8)
}

func TestParseFstabRootEntry(t *testing.T) {
	path := writeFstab(t)
	entries, err := ParseFstab(path)
	TestExpectSuccess(t, err)

	var root FstabEntry
	for _, e := range entries {
		if e.MountPoint == "/" {
			root = e
		}
	}
	TestEqual(t, root.FSSpec, "UUID=12345678-1234-1234-1234-123456789abc")
	TestEqual(t, root.FSType, "ext4")
	TestEqual(t, root.Dump, 0)
	TestEqual(t, root.Pass, 1)
}

func TestFstabEntryClassification(t *testing.T) {
	path := writeFstab(t)
	entries, err := ParseFstab(path)
	TestExpectSuccess(t, err)

	byPoint := map[string]FstabEntry{}
	for _, e := range entries {
		byPoint[e.MountPoint] = e
	}

	TestTrue(t, byPoint["none"].IsSwap())
	TestFalse(t, byPoint["/"].IsSwap())

	TestTrue(t, byPoint["/"].IsAuto())
	TestFalse(t, byPoint["/mnt/usb"].IsAuto())

	TestTrue(t, byPoint["/mnt/nfs"].IsNetwork())
	TestFalse(t, byPoint["/"].IsNetwork())

	TestTrue(t, byPoint["/srv/data"].IsBind())
	TestFalse(t, byPoint["/"].IsBind())
}

func TestMountUnitNameMangling(t *testing.T) {
	TestEqual(t, MountUnitName("/"), "-.mount")
	TestEqual(t, MountUnitName("/home"), "home.mount")
	TestEqual(t, MountUnitName("/mnt/nfs"), "mnt-nfs.mount")
	TestEqual(t, MountUnitName("/home/user/data"), "home-user-data.mount")
}

func TestGenerateMountUnitsFiltersAndWrites(t *testing.T) {
	fstabPath := writeFstab(t)
	outDir := filepath.Join(TempDir(t), "generator")

	names, err := GenerateMountUnits(fstabPath, outDir)
	TestExpectSuccess(t, err)

	written := map[string]bool{}
	for _, n := range names {
		written[n] = true
	}

	TestTrue(t, written["-.mount"])
	TestTrue(t, written["home.mount"])
	TestTrue(t, written["tmp.mount"])
	TestTrue(t, written["mnt-nfs.mount"])
	TestTrue(t, written["srv-data.mount"])
	TestFalse(t, written["mnt-usb.mount"])

	body, err := os.ReadFile(filepath.Join(outDir, "mnt-nfs.mount"))
	TestExpectSuccess(t, err)
	TestTrue(t, len(body) > 0)
}

func TestToMountUnitBindRequiresSource(t *testing.T) {
	e := FstabEntry{FSSpec: "/home/user/data", MountPoint: "/srv/data", FSType: "none", Options: "bind"}
	mu := toMountUnit(e)
	TestEqual(t, mu.name, "srv-data.mount")
	TestTrue(t, containsLine(mu.body, "Requires=home-user-data.mount"))
	TestTrue(t, containsLine(mu.body, "After=home-user-data.mount"))
}

func TestToMountUnitRootHasNoDefaultDependencies(t *testing.T) {
	e := FstabEntry{FSSpec: "UUID=x", MountPoint: "/", FSType: "ext4", Options: "defaults"}
	mu := toMountUnit(e)
	TestTrue(t, containsLine(mu.body, "DefaultDependencies=no"))
}

func containsLine(body, line string) bool {
	for _, l := range splitLines(body) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
