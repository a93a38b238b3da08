// Copyright 2015 Apcera Inc. All rights reserved.

package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apcera/sysd/unit"
)

// namedCalendarSpecs maps the systemd calendar shorthands, recovered
// from the reference implementation's scheduler and not present in the
// distilled grammar, to the OnCalendar= expression they stand for.
var namedCalendarSpecs = map[string]string{
	"minutely": "*-*-* *:*:00",
	"hourly":   "*-*-* *:00:00",
	"daily":    "*-*-* 00:00:00",
	"midnight": "*-*-* 00:00:00",
	"weekly":   "Mon *-*-* 00:00:00",
	"monthly":  "*-*-01 00:00:00",
	"yearly":   "*-01-01 00:00:00",
	"annually": "*-01-01 00:00:00",
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseCalendar parses a single OnCalendar= expression into a
// unit.CalendarSpec. It accepts the named shorthands (minutely, daily,
// weekly, ...) and the "[weekday] Y-M-D h:m:s" form with "*" wildcards
// and comma-separated alternatives in each field, per SPEC_FULL.md §10.
func ParseCalendar(raw string) (unit.CalendarSpec, error) {
	expr := strings.TrimSpace(raw)
	if canon, ok := namedCalendarSpecs[strings.ToLower(expr)]; ok {
		expr = canon
	}

	spec := unit.CalendarSpec{Raw: raw}

	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return spec, fmt.Errorf("empty calendar expression")
	}

	// An optional leading weekday list, comma-separated, e.g. "Mon,Fri".
	if _, err := strconv.Atoi(fields[0][:1]); err != nil && fields[0][0] != '*' {
		for _, d := range strings.Split(fields[0], ",") {
			wd, ok := weekdayNames[strings.ToLower(d)]
			if !ok {
				return spec, fmt.Errorf("unknown weekday %q", d)
			}
			spec.Weekdays = append(spec.Weekdays, wd)
		}
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return spec, fmt.Errorf("calendar expression missing date/time")
	}

	var dateField, timeField string
	switch len(fields) {
	case 1:
		// A bare time-of-day or bare date, disambiguated by ":".
		if strings.Contains(fields[0], ":") {
			timeField = fields[0]
		} else {
			dateField = fields[0]
		}
	case 2:
		dateField, timeField = fields[0], fields[1]
	default:
		return spec, fmt.Errorf("too many fields in calendar expression %q", raw)
	}

	if dateField != "" {
		parts := strings.Split(dateField, "-")
		var err error
		switch len(parts) {
		case 3:
			if spec.Years, err = parseCalendarField(parts[0]); err != nil {
				return spec, err
			}
			if spec.Months, err = parseCalendarField(parts[1]); err != nil {
				return spec, err
			}
			if spec.Days, err = parseCalendarField(parts[2]); err != nil {
				return spec, err
			}
		case 2:
			if spec.Months, err = parseCalendarField(parts[0]); err != nil {
				return spec, err
			}
			if spec.Days, err = parseCalendarField(parts[1]); err != nil {
				return spec, err
			}
		case 1:
			if spec.Days, err = parseCalendarField(parts[0]); err != nil {
				return spec, err
			}
		default:
			return spec, fmt.Errorf("invalid date field %q", dateField)
		}
	}

	if timeField != "" {
		parts := strings.Split(timeField, ":")
		var err error
		switch len(parts) {
		case 3:
			if spec.Hours, err = parseCalendarField(parts[0]); err != nil {
				return spec, err
			}
			if spec.Minutes, err = parseCalendarField(parts[1]); err != nil {
				return spec, err
			}
			if spec.Seconds, err = parseCalendarField(parts[2]); err != nil {
				return spec, err
			}
		case 2:
			if spec.Hours, err = parseCalendarField(parts[0]); err != nil {
				return spec, err
			}
			if spec.Minutes, err = parseCalendarField(parts[1]); err != nil {
				return spec, err
			}
		default:
			return spec, fmt.Errorf("invalid time field %q", timeField)
		}
	}

	return spec, nil
}

// parseCalendarField parses one "*"-or-comma-or-range field of a
// calendar date/time component; nil means "any".
func parseCalendarField(f string) ([]int, error) {
	if f == "*" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(f, ",") {
		if lo, hi, ok := strings.Cut(part, ".."); ok {
			loN, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("invalid range start %q", lo)
			}
			hiN, err := strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid range end %q", hi)
			}
			for n := loN; n <= hiN; n++ {
				out = append(out, n)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar field value %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
