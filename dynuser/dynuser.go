// Copyright 2015 Apcera Inc. All rights reserved.

// Package dynuser allocates ephemeral uid/gid pairs for
// DynamicUser=yes services, persisting the allocation table across
// restarts the way diamondburned-cronmon's journal package guards its
// journal file with a flock, per spec.md §6's persisted-state layout
// ("dynamic-user allocations under /var/lib/<name>/dynamic-users/").
package dynuser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Range bounds match the reference service manager's dynamic-user
// range, per original_source/src/manager/dynamic_user.rs.
const (
	uidMin uint32 = 61184
	uidMax uint32 = 65519
)

// ErrPoolExhausted is returned by Allocate once every uid in range is
// in use.
var ErrPoolExhausted = errors.New("dynamic user pool exhausted")

// record is one entry of the persisted allocation table.
type record struct {
	UID  uint32 `json:"uid"`
	Unit string `json:"unit"`
}

// Table tracks which dynamic uids are currently assigned to which
// unit, backed by a JSON file guarded by an flock so a second sysd
// instance (or a re-exec racing the old process during shutdown)
// can't allocate the same uid twice.
type Table struct {
	path string
	lock *flock.Flock

	mu        sync.Mutex
	allocated map[uint32]string // uid -> unit name
	byUnit    map[string]uint32 // unit name -> uid, so every Exec* of one activation shares a uid
	nextUID   uint32
}

// Open loads (or creates) the allocation table at path, acquiring an
// exclusive flock the same way journal.NewFileLockJournaler does.
// Close must be called to release the lock.
func Open(path string) (*Table, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "creating dynamic-user directory")
	}

	l := flock.New(path + ".lock")
	locked, err := l.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring dynamic-user table lock")
	}
	if !locked {
		return nil, errors.New("dynamic-user table locked by another process")
	}

	t := &Table{
		path:      path,
		lock:      l,
		allocated: make(map[uint32]string),
		byUnit:    make(map[string]uint32),
		nextUID:   uidMin,
	}

	if err := t.load(); err != nil {
		l.Unlock()
		return nil, err
	}
	return t, nil
}

func (t *Table) load() error {
	b, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "reading dynamic-user table")
	}
	var records []record
	if err := json.Unmarshal(b, &records); err != nil {
		return errors.Wrap(err, "parsing dynamic-user table")
	}
	for _, r := range records {
		t.allocated[r.UID] = r.Unit
		t.byUnit[r.Unit] = r.UID
	}
	return nil
}

// persist rewrites the table file atomically (write temp, rename),
// matching the "always valid and atomic" guarantee journal.go's doc
// comment describes for its own writes.
func (t *Table) persist() error {
	records := make([]record, 0, len(t.allocated))
	for uid, unit := range t.allocated {
		records = append(records, record{UID: uid, Unit: unit})
	}
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// Allocate assigns the next free uid in range to unitName, wrapping
// around the ring the way DynamicUserManager::allocate does, and
// reports ErrPoolExhausted once a full lap finds nothing free. uid and
// gid are always equal, per the original's "for simplicity, uid == gid".
// A unit already holding an allocation gets the same uid back, since
// sandbox.BuildConfig calls this once per Exec* command and every
// command of one activation must run as the same dynamic user.
// This method's signature matches sandbox.DynamicUIDResolver, so a
// *Table can be passed directly wherever that resolver is required.
func (t *Table) Allocate(unitName string) (uid, gid uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byUnit[unitName]; ok {
		return existing, existing, nil
	}

	start := t.nextUID
	candidate := start
	for {
		if _, taken := t.allocated[candidate]; !taken {
			t.allocated[candidate] = unitName
			t.byUnit[unitName] = candidate
			if candidate >= uidMax {
				t.nextUID = uidMin
			} else {
				t.nextUID = candidate + 1
			}
			if err := t.persist(); err != nil {
				delete(t.allocated, candidate)
				delete(t.byUnit, unitName)
				return 0, 0, fmt.Errorf("persisting dynamic-user table: %w", err)
			}
			return candidate, candidate, nil
		}

		if candidate >= uidMax {
			candidate = uidMin
		} else {
			candidate++
		}
		if candidate == start {
			return 0, 0, ErrPoolExhausted
		}
	}
}

// Release frees unitName's allocation, called once its DynamicUser=yes
// activation fully stops (not on a restart, since the reference
// manager keeps a service's dynamic uid stable if it simply cycles
// its Exec* commands within one Allocate/Release window; here it is
// called only from the supervisor's terminal-state transitions).
func (t *Table) Release(unitName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	uid, ok := t.byUnit[unitName]
	if !ok {
		return
	}
	delete(t.byUnit, unitName)
	delete(t.allocated, uid)
	t.persist()
}

// IsDynamicUID reports whether uid falls in the managed range.
func IsDynamicUID(uid uint32) bool {
	return uid >= uidMin && uid <= uidMax
}

// Close releases the table's flock. The table itself is left on disk
// so allocations survive a restart.
func (t *Table) Close() error {
	return t.lock.Unlock()
}
