package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is either a fixed interval ("every:30m") or a daily UTC wall-clock
// time ("daily@05:00Z").
type Schedule struct {
	Period time.Duration // zero for daily schedules
	Hour   int
	Minute int
}

func (s Schedule) Daily() bool { return s.Period == 0 }

// Next returns the first due time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	if !s.Daily() {
		return now.Add(s.Period)
	}
	utc := now.UTC()
	due := time.Date(utc.Year(), utc.Month(), utc.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	if !due.After(utc) {
		due = due.Add(24 * time.Hour)
	}
	return due
}

// LockTTL is how long the runner may hold the task's advisory lock: five
// periods, so a crashed holder expires well before drift matters.
func (s Schedule) LockTTL() time.Duration {
	if s.Daily() {
		return 5 * 24 * time.Hour
	}
	return 5 * s.Period
}

// Parse reads the two schedule forms. Anything else is an error; the runner
// disables such tasks rather than guessing.
func Parse(raw string) (Schedule, error) {
	switch {
	case strings.HasPrefix(raw, "every:"):
		spec := strings.TrimPrefix(raw, "every:")
		if len(spec) < 2 {
			return Schedule{}, fmt.Errorf("schedule %q: empty interval", raw)
		}
		unit := spec[len(spec)-1]
		n, err := strconv.Atoi(spec[:len(spec)-1])
		if err != nil || n <= 0 {
			return Schedule{}, fmt.Errorf("schedule %q: bad interval count", raw)
		}
		var d time.Duration
		switch unit {
		case 's':
			d = time.Second
		case 'm':
			d = time.Minute
		case 'h':
			d = time.Hour
		default:
			return Schedule{}, fmt.Errorf("schedule %q: unit must be s, m or h", raw)
		}
		return Schedule{Period: time.Duration(n) * d}, nil

	case strings.HasPrefix(raw, "daily@"):
		spec := strings.TrimPrefix(raw, "daily@")
		if !strings.HasSuffix(spec, "Z") {
			return Schedule{}, fmt.Errorf("schedule %q: daily times are UTC and end in Z", raw)
		}
		hm := strings.Split(strings.TrimSuffix(spec, "Z"), ":")
		if len(hm) != 2 {
			return Schedule{}, fmt.Errorf("schedule %q: want daily@HH:MMZ", raw)
		}
		h, err1 := strconv.Atoi(hm[0])
		m, err2 := strconv.Atoi(hm[1])
		if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return Schedule{}, fmt.Errorf("schedule %q: bad wall-clock time", raw)
		}
		return Schedule{Hour: h, Minute: m}, nil
	}
	return Schedule{}, fmt.Errorf("schedule %q: unknown form", raw)
}
