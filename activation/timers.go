// Copyright 2015 Apcera Inc. All rights reserved.

package activation

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/apcera/sysd/unit"
)

// activateTimer starts a background goroutine evaluating u's [Timer]
// triggers and starts its associated unit each time one fires,
// generalizing original_source/src/manager/timer_scheduler.rs's
// calculate_next_trigger from a single-fire channel send to an
// in-process recurring loop.
func (m *Manager) activateTimer(ctx context.Context, u *unit.Unit) error {
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.timers[u.Name] = cancel
	m.mu.Unlock()

	go m.runTimer(runCtx, u)
	return nil
}

// deactivateTimer cancels u's scheduling loop, the stop-side
// counterpart of activateTimer.
func (m *Manager) deactivateTimer(u *unit.Unit) error {
	m.mu.Lock()
	cancel, ok := m.timers[u.Name]
	delete(m.timers, u.Name)
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// timerTarget resolves the unit a timer activates: Timer.Unit if set,
// otherwise "<stem>.service".
func timerTarget(u *unit.Unit) string {
	if u.Timer.Unit != "" {
		return u.Timer.Unit
	}
	return unit.CanonicalName(u.Stem(), unit.KindService)
}

// runTimer is the per-timer-unit scheduling loop: it computes the
// next occurrence among every configured trigger, sleeps until then
// (or ctx cancellation), fires, and repeats. OnBootSec/OnStartupSec/
// OnActiveSec fire at most once per activation; OnCalendar and
// OnUnitActiveSec recur.
func (m *Manager) runTimer(ctx context.Context, u *unit.Unit) {
	t := u.Timer
	bootRef := time.Now()
	target := timerTarget(u)

	oneShotFired := map[string]bool{}
	lastUnitActive := bootRef

	if t.Persistent && len(t.OnCalendar) > 0 {
		m.catchUpMissedFire(ctx, u, target)
	}

	for {
		now := time.Now()
		next, label, recurring := m.nextOccurrence(t, now, bootRef, lastUnitActive, oneShotFired)
		if next.IsZero() {
			m.Log.Tracef("%s: no further triggers scheduled", u.Name)
			return
		}

		if t.RandomizedDelaySec > 0 {
			next = next.Add(time.Duration(rand.Int63n(int64(t.RandomizedDelaySec) + 1)))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}

		if !recurring {
			oneShotFired[label] = true
		}
		if label == "OnUnitActiveSec" {
			lastUnitActive = time.Now()
		}

		m.Log.Debugf("%s: timer fired (%s), starting %s", u.Name, label, target)
		if err := m.startBoundUnit(ctx, target); err != nil {
			m.Log.Errorf("%s: starting %s: %v", u.Name, target, err)
		}
		if t.Persistent {
			m.recordFire(u, time.Now())
		}
	}
}

// nextOccurrence finds the earliest pending trigger across every
// source configured on t. It returns a zero time if nothing remains
// pending (every one-shot source has already fired and there is no
// OnCalendar/OnUnitActiveSec entry to recur on).
func (m *Manager) nextOccurrence(t *unit.Timer, now, bootRef, lastUnitActive time.Time, fired map[string]bool) (when time.Time, label string, recurring bool) {
	type candidate struct {
		when      time.Time
		label     string
		recurring bool
	}
	var best *candidate
	consider := func(c candidate) {
		if best == nil || c.when.Before(best.when) {
			best = &c
		}
	}

	if t.OnBootSec > 0 && !fired["OnBootSec"] {
		consider(candidate{bootRef.Add(t.OnBootSec), "OnBootSec", false})
	}
	if t.OnStartupSec > 0 && !fired["OnStartupSec"] {
		consider(candidate{bootRef.Add(t.OnStartupSec), "OnStartupSec", false})
	}
	if t.OnActiveSec > 0 && !fired["OnActiveSec"] {
		consider(candidate{bootRef.Add(t.OnActiveSec), "OnActiveSec", false})
	}
	if t.OnUnitActiveSec > 0 {
		consider(candidate{lastUnitActive.Add(t.OnUnitActiveSec), "OnUnitActiveSec", true})
	}
	for _, cal := range t.OnCalendar {
		if next, ok := nextCalendarMatch(cal, now); ok {
			consider(candidate{next, "OnCalendar", true})
		}
	}

	if best == nil {
		return time.Time{}, "", false
	}
	return best.when, best.label, best.recurring
}

// fireStamp is the persisted record for a Persistent=yes timer, guarded
// by an flock the same way dynuser.Table and
// diamondburned-cronmon/cronmon/journal guard their own state files.
type fireStamp struct {
	LastFire time.Time `json:"last_fire"`
}

func (m *Manager) stampPath(u *unit.Unit) string {
	return filepath.Join(m.StateDir, u.Stem()+".timer.json")
}

// catchUpMissedFire checks whether u's most recent OnCalendar
// occurrence before now is later than the persisted last-fire stamp,
// meaning a fire was missed while the system was down, and if so runs
// target immediately. It reports whether a catch-up fire happened.
func (m *Manager) catchUpMissedFire(ctx context.Context, u *unit.Unit, target string) bool {
	path := m.stampPath(u)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		m.Log.Warnf("%s: creating timer state dir: %v", u.Name, err)
		return false
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		m.Log.Warnf("%s: locking timer state: %v", u.Name, err)
		return false
	}
	defer lock.Unlock()

	last := readFireStamp(path)

	missed := false
	for _, cal := range u.Timer.OnCalendar {
		if next, ok := nextCalendarMatch(cal, last); ok && !next.After(time.Now()) {
			missed = true
			break
		}
	}
	if !missed {
		return false
	}

	m.Log.Infof("%s: missed a scheduled fire while stopped, running %s now", u.Name, target)
	if err := m.startBoundUnit(ctx, target); err != nil {
		m.Log.Errorf("%s: catch-up start of %s: %v", u.Name, target, err)
	}
	m.recordFireLocked(path, time.Now())
	return true
}

func readFireStamp(path string) time.Time {
	b, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}
	}
	var s fireStamp
	if err := json.Unmarshal(b, &s); err != nil {
		return time.Time{}
	}
	return s.LastFire
}

// recordFire acquires the flock itself; use recordFireLocked when the
// caller already holds it.
func (m *Manager) recordFire(u *unit.Unit, when time.Time) {
	path := m.stampPath(u)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		m.Log.Warnf("%s: locking timer state to record fire: %v", u.Name, err)
		return
	}
	defer lock.Unlock()
	m.recordFireLocked(path, when)
}

func (m *Manager) recordFireLocked(path string, when time.Time) {
	b, err := json.Marshal(fireStamp{LastFire: when})
	if err != nil {
		return
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		m.Log.Warnf("writing timer state %s: %v", path, err)
	}
}

// nextCalendarMatch finds the earliest instant strictly after from
// that matches spec, by advancing field-by-field and resetting lower
// fields whenever a higher field doesn't match, the same
// carry-and-reset approach cron schedulers use for step-free field
// lists. limit bounds runaway searches against calendar specs that can
// never match (e.g. Days=[31] on a Months=[2] field).
func nextCalendarMatch(spec unit.CalendarSpec, from time.Time) (time.Time, bool) {
	t := from.Truncate(time.Second).Add(time.Second)
	limit := from.AddDate(8, 0, 0)

	for i := 0; i < 100000 && t.Before(limit); i++ {
		if !fieldMatches(spec.Years, t.Year()) {
			t = time.Date(t.Year()+1, 1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !fieldMatches(spec.Months, int(t.Month())) {
			t = firstOfNextMonth(t)
			continue
		}
		if !fieldMatches(spec.Days, t.Day()) {
			t = startOfNextDay(t)
			continue
		}
		if len(spec.Weekdays) > 0 && !weekdayMatches(spec.Weekdays, t.Weekday()) {
			t = startOfNextDay(t)
			continue
		}
		if !fieldMatches(spec.Hours, t.Hour()) {
			t = startOfNextHour(t)
			continue
		}
		if !fieldMatches(spec.Minutes, t.Minute()) {
			t = startOfNextMinute(t)
			continue
		}
		if !fieldMatches(spec.Seconds, t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func fieldMatches(allowed []int, v int) bool {
	if allowed == nil {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

func weekdayMatches(allowed []time.Weekday, v time.Weekday) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

func firstOfNextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}

func startOfNextDay(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, 1)
}

func startOfNextHour(t time.Time) time.Time {
	h := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	return h.Add(time.Hour)
}

func startOfNextMinute(t time.Time) time.Time {
	min := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	return min.Add(time.Minute)
}
