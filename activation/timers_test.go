// Copyright 2015 Apcera Inc. All rights reserved.

package activation

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
	"github.com/apcera/sysd/unit/parser"
)

func mustCalendar(t *testing.T, raw string) unit.CalendarSpec {
	spec, err := parser.ParseCalendar(raw)
	TestExpectSuccess(t, err)
	return spec
}

func TestNextCalendarMatchDaily(t *testing.T) {
	spec := mustCalendar(t, "daily")
	from := time.Date(2026, 8, 6, 13, 30, 0, 0, time.UTC)
	next, ok := nextCalendarMatch(spec, from)
	TestTrue(t, ok)
	TestEqual(t, next, time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC))
}

func TestNextCalendarMatchHourly(t *testing.T) {
	spec := mustCalendar(t, "hourly")
	from := time.Date(2026, 8, 6, 13, 30, 15, 0, time.UTC)
	next, ok := nextCalendarMatch(spec, from)
	TestTrue(t, ok)
	TestEqual(t, next, time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC))
}

func TestNextCalendarMatchWeekly(t *testing.T) {
	spec := mustCalendar(t, "weekly")
	// 2026-08-06 is a Thursday; next Monday is 2026-08-10.
	from := time.Date(2026, 8, 6, 13, 30, 0, 0, time.UTC)
	next, ok := nextCalendarMatch(spec, from)
	TestTrue(t, ok)
	TestEqual(t, next, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	TestEqual(t, next.Weekday(), time.Monday)
}

func TestNextCalendarMatchExplicitField(t *testing.T) {
	spec := mustCalendar(t, "*-*-* 04:30:00")
	from := time.Date(2026, 8, 6, 4, 30, 0, 0, time.UTC)
	next, ok := nextCalendarMatch(spec, from)
	TestTrue(t, ok)
	// from is exactly on the boundary; nextCalendarMatch always starts
	// one second after from, so the next match is tomorrow.
	TestEqual(t, next, time.Date(2026, 8, 7, 4, 30, 0, 0, time.UTC))
}

func TestNextCalendarMatchUnsatisfiable(t *testing.T) {
	spec := unit.CalendarSpec{Days: []int{31}, Months: []int{2}}
	_, ok := nextCalendarMatch(spec, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	TestFalse(t, ok)
}

func TestFieldMatchesNilIsWildcard(t *testing.T) {
	TestTrue(t, fieldMatches(nil, 42))
	TestTrue(t, fieldMatches([]int{1, 2, 3}, 2))
	TestFalse(t, fieldMatches([]int{1, 2, 3}, 4))
}

func TestNextOccurrencePrefersEarliestSource(t *testing.T) {
	m := &Manager{}
	timer := &unit.Timer{
		OnBootSec:   time.Hour,
		OnActiveSec: time.Minute,
	}
	boot := time.Now()
	when, label, recurring := m.nextOccurrence(timer, boot, boot, boot, map[string]bool{})
	TestEqual(t, label, "OnActiveSec")
	TestFalse(t, recurring)
	TestTrue(t, when.Before(boot.Add(time.Hour)))
}

func TestNextOccurrenceSkipsFiredOneShots(t *testing.T) {
	m := &Manager{}
	timer := &unit.Timer{OnBootSec: time.Hour, OnActiveSec: time.Minute}
	boot := time.Now()
	fired := map[string]bool{"OnActiveSec": true}
	_, label, _ := m.nextOccurrence(timer, boot, boot, boot, fired)
	TestEqual(t, label, "OnBootSec")
}

func TestNextOccurrenceNoneReturnsZero(t *testing.T) {
	m := &Manager{}
	timer := &unit.Timer{}
	boot := time.Now()
	when, _, _ := m.nextOccurrence(timer, boot, boot, boot, map[string]bool{})
	TestTrue(t, when.IsZero())
}

func TestFireStampRoundTrips(t *testing.T) {
	dir := TempDir(t)
	path := filepath.Join(dir, "web.timer.json")
	m := &Manager{Log: nil}
	stamp := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	m.recordFireLocked(path, stamp)

	got := readFireStamp(path)
	TestTrue(t, got.Equal(stamp))
}

func TestReadFireStampMissingFileIsZero(t *testing.T) {
	got := readFireStamp(filepath.Join(TempDir(t), "missing.json"))
	TestTrue(t, got.IsZero())
}

func TestTimerTargetDefaultsToStemService(t *testing.T) {
	u := &unit.Unit{Name: "backup.timer", Kind: unit.KindTimer, Timer: &unit.Timer{}}
	TestEqual(t, timerTarget(u), "backup.service")
}

func TestTimerTargetHonorsUnitOverride(t *testing.T) {
	u := &unit.Unit{Name: "backup.timer", Kind: unit.KindTimer, Timer: &unit.Timer{Unit: "other.service"}}
	TestEqual(t, timerTarget(u), "other.service")
}
