// Copyright 2015 Apcera Inc. All rights reserved.

package dynuser

import (
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"
)

func tempTable(t *testing.T) *Table {
	dir := TempDir(t)
	tbl, err := Open(filepath.Join(dir, "dynamic-users", "allocations.json"))
	TestExpectSuccess(t, err)
	return tbl
}

func TestAllocateReturnsUIDInRange(t *testing.T) {
	tbl := tempTable(t)
	defer tbl.Close()

	uid, gid, err := tbl.Allocate("foo.service")
	TestExpectSuccess(t, err)
	TestEqual(t, uid, gid)
	TestTrue(t, IsDynamicUID(uid))
	TestEqual(t, uid, uidMin)
}

func TestAllocateIsIdempotentPerUnit(t *testing.T) {
	tbl := tempTable(t)
	defer tbl.Close()

	uid1, _, err := tbl.Allocate("foo.service")
	TestExpectSuccess(t, err)

	uid2, _, err := tbl.Allocate("foo.service")
	TestExpectSuccess(t, err)
	TestEqual(t, uid1, uid2)
}

func TestAllocateGivesDistinctUIDsToDistinctUnits(t *testing.T) {
	tbl := tempTable(t)
	defer tbl.Close()

	uid1, _, err := tbl.Allocate("foo.service")
	TestExpectSuccess(t, err)
	uid2, _, err := tbl.Allocate("bar.service")
	TestExpectSuccess(t, err)
	TestNotEqual(t, uid1, uid2)
}

func TestReleaseFreesUIDForReuse(t *testing.T) {
	tbl := tempTable(t)
	defer tbl.Close()

	uid1, _, err := tbl.Allocate("foo.service")
	TestExpectSuccess(t, err)
	tbl.Release("foo.service")

	// foo's uid is free again; allocation continues round-robin from
	// the last uid handed out, so the next unit gets the following uid
	// and foo's old uid comes back only after the range wraps.
	_, ok := tbl.byUnit["foo.service"]
	TestFalse(t, ok)
	_, taken := tbl.allocated[uid1]
	TestFalse(t, taken)

	uid2, _, err := tbl.Allocate("baz.service")
	TestExpectSuccess(t, err)
	TestEqual(t, uid2, uid1+1)
}

func TestAllocatePersistsAcrossReopen(t *testing.T) {
	dir := TempDir(t)
	path := filepath.Join(dir, "allocations.json")

	tbl, err := Open(path)
	TestExpectSuccess(t, err)
	uid, _, err := tbl.Allocate("foo.service")
	TestExpectSuccess(t, err)
	TestExpectSuccess(t, tbl.Close())

	reopened, err := Open(path)
	TestExpectSuccess(t, err)
	defer reopened.Close()

	got, _, err := reopened.Allocate("foo.service")
	TestExpectSuccess(t, err)
	TestEqual(t, got, uid)
}

func TestOpenFailsWhenAlreadyLocked(t *testing.T) {
	dir := TempDir(t)
	path := filepath.Join(dir, "allocations.json")

	tbl, err := Open(path)
	TestExpectSuccess(t, err)
	defer tbl.Close()

	_, err = Open(path)
	TestExpectError(t, err)
}

func TestAllocateExhaustsPool(t *testing.T) {
	tbl := tempTable(t)
	defer tbl.Close()

	for uid := uidMin; uid <= uidMax; uid++ {
		tbl.allocated[uid] = "filler"
	}
	tbl.nextUID = uidMin

	_, _, err := tbl.Allocate("overflow.service")
	TestEqual(t, err, ErrPoolExhausted)
}
