// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package schedule implements the cron-like activity windows a policy
// can be scoped to, and the request-freshness check that gates a
// cached peer from going stale.
//
// ParsePeriod/PreviousTrigger/IsInActivityPeriod walk local-time fields
// the same way the original does: by repeatedly stepping a candidate
// time backward one field at a time until it lands on or before the
// time being checked. The field-priority order in that backward walk
// (day-of-month before day-of-week before hour before minute) is
// preserved exactly as found, including its one documented quirk: a
// period with both a day-of-month and a day-of-week constraint lets
// day-of-month win the walk, so the day-of-week constraint is only
// ever satisfied by coincidence. Implementers relying on both fields
// together should not expect day-of-week to be honored.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/ntp"
)

// DefaultTimeout is used when a policy's timeout threshold is the
// zero value.
const DefaultTimeout = 3600 * time.Second

// Period is a policy's cron-like schedule: a start expression and a
// duration expression, each "minutes hours days dayOfWeek" with "*"
// meaning unconstrained.
type Period struct {
	Start    string
	Duration string
}

// fields is a parsed period expression; -1 (or, for a duration field,
// 0) means the corresponding "*" was given.
type fields struct {
	minutes, hours, days, dayOfWeek int
}

// ParsePeriod parses a "minutes hours days dayOfWeek" cron-like string.
// Missing trailing fields are left at their "*" default. A duration
// expression treats "*" as 0 instead of -1, since an unconstrained
// duration field contributes nothing to the total length.
func ParsePeriod(periodStr string, isDuration bool) (minutes, hours, days, dayOfWeek int) {
	unset := -1
	if isDuration {
		unset = 0
	}
	minutes, hours, days, dayOfWeek = unset, unset, unset, unset

	tokens := strings.Fields(periodStr)
	for i, token := range tokens {
		if i >= 4 {
			break
		}
		var value int
		if token == "*" {
			value = unset
		} else {
			value, _ = strconv.Atoi(token)
		}
		switch i {
		case 0:
			minutes = value
		case 1:
			hours = value
		case 2:
			days = value
		case 3:
			dayOfWeek = value
		}
	}
	return minutes, hours, days, dayOfWeek
}

func parseStart(periodStr string) fields {
	minutes, hours, days, dayOfWeek := ParsePeriod(periodStr, false)
	return fields{minutes, hours, days, dayOfWeek}
}

// PreviousTrigger returns the most recent time at or before currentTime
// that matches the period's start expression, evaluated in
// currentTime's own location (matching the original's use of
// localtime).
func PreviousTrigger(period Period, currentTime time.Time) time.Time {
	loc := currentTime.Location()
	f := parseStart(period.Start)

	currentDay := currentTime.Day()
	currentWeekday := int(currentTime.Weekday())
	currentHour := currentTime.Hour()

	year, month, day := currentTime.Date()
	hour, min := currentTime.Hour(), currentTime.Minute()

	if f.minutes != -1 {
		min = f.minutes
	}
	if f.hours != -1 {
		hour = f.hours
	}
	if f.days != -1 {
		day = f.days
	}

	check := time.Date(year, month, day, hour, min, 0, 0, loc)

	// Step the candidate backward, one field at a time, in the same
	// priority order as the original: day-of-month first, then
	// day-of-week, then hour, then minute. Whichever of those fields
	// was pinned (not "*") is the one stepped. If none was pinned the
	// candidate is currentTime truncated to the minute, which is never
	// after currentTime, so the loop body does not run.
	for check.After(currentTime) || (f.dayOfWeek != -1 && int(check.Weekday()) != f.dayOfWeek) {
		switch {
		case f.days != -1:
			check = check.AddDate(0, -1, 0)
		case f.dayOfWeek != -1:
			check = check.AddDate(0, 0, -1)
		case f.hours != -1:
			check = check.AddDate(0, 0, -1)
		case f.minutes != -1:
			check = check.Add(-time.Hour)
		default:
			break
		}
	}

	if f.hours != -1 && currentHour != check.Hour() {
		if f.minutes == -1 {
			check = time.Date(check.Year(), check.Month(), check.Day(), check.Hour(), 59, 0, 0, loc)
		}
	}
	if f.days != -1 && currentDay != check.Day() {
		if f.hours == -1 {
			check = time.Date(check.Year(), check.Month(), check.Day(), 23, check.Minute(), 0, 0, loc)
		}
		if f.minutes == -1 {
			check = time.Date(check.Year(), check.Month(), check.Day(), check.Hour(), 59, 0, 0, loc)
		}
	}
	if f.dayOfWeek != -1 && currentWeekday != int(check.Weekday()) {
		if f.hours == -1 {
			check = time.Date(check.Year(), check.Month(), check.Day(), 23, check.Minute(), 0, 0, loc)
		}
		if f.minutes == -1 {
			check = time.Date(check.Year(), check.Month(), check.Day(), check.Hour(), 59, 0, 0, loc)
		}
	}

	return check
}

// IsInActivityPeriod reports whether currentTime falls within the
// window that starts at PreviousTrigger(period, currentTime) and runs
// for period.Duration.
func IsInActivityPeriod(period Period, currentTime time.Time) bool {
	start := PreviousTrigger(period, currentTime)

	durMinutes, durHours, durDays, _ := ParsePeriod(period.Duration, true)
	duration := time.Duration(durMinutes)*time.Minute +
		time.Duration(durHours)*time.Hour +
		time.Duration(durDays)*24*time.Hour

	end := start.Add(duration)
	return !currentTime.Before(start) && currentTime.Before(end)
}

// IsTimedOut reports whether lastRequest is too old to accept, given a
// timeout threshold in seconds: thresholdSeconds == -1 disables the
// timeout entirely, and thresholdSeconds == 0 falls back to
// DefaultTimeout. A zero lastRequest (no prior request made) never
// times out.
func IsTimedOut(thresholdSeconds float64, lastRequest time.Time) bool {
	if lastRequest.IsZero() || thresholdSeconds == -1 {
		return false
	}
	threshold := DefaultTimeout
	if thresholdSeconds != 0 {
		threshold = time.Duration(thresholdSeconds * float64(time.Second))
	}
	return time.Since(lastRequest) > threshold
}

// ClockSkew queries an NTP peer and returns the local clock's offset
// from it: IsInActivityPeriod and IsTimedOut both key off the local
// wall clock (§5), so a device with significant drift is worth
// flagging even though this check is diagnostic, not on the
// transition-evaluation hot path.
func ClockSkew(peer string) (time.Duration, error) {
	resp, err := ntp.Query(peer)
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}
