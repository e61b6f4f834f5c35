// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTimedOutS5(t *testing.T) {
	now := time.Now()

	assert.False(t, IsTimedOut(10, now.Add(-5*time.Second)),
		"a 5s-old request under a 10s threshold must not be timed out")
	assert.True(t, IsTimedOut(10, now.Add(-20*time.Second)),
		"a 20s-old request under a 10s threshold must be timed out")
	assert.False(t, IsTimedOut(0, now.Add(-5*time.Second)),
		"a 5s-old request under the default 3600s threshold must not be timed out")
}

func TestIsTimedOutProperty(t *testing.T) {
	now := time.Now()
	last := now.Add(-100 * time.Second)

	assert.False(t, IsTimedOut(0, time.Time{}), "threshold=0 with no prior request must never time out")
	assert.False(t, IsTimedOut(-1, last), "threshold=-1 must disable the timeout entirely")
	assert.Equal(t, IsTimedOut(3600, last), IsTimedOut(0, last),
		"threshold=0 must behave identically to threshold=3600 (the default)")
}

func TestActivityWindowS6(t *testing.T) {
	loc := time.Local
	period := Period{Start: "30 14 * *", Duration: "0 1 0 0"}

	now := time.Date(2024, time.June, 10, 14, 45, 0, 0, loc)
	start := PreviousTrigger(period, now)
	want := time.Date(2024, time.June, 10, 14, 30, 0, 0, loc)
	assert.True(t, start.Equal(want), "previous_trigger = %v, want %v", start, want)
	assert.True(t, IsInActivityPeriod(period, now), "expected now to be within the activity period")

	later := time.Date(2024, time.June, 10, 15, 31, 0, 0, loc)
	assert.False(t, IsInActivityPeriod(period, later),
		"expected 15:31 to fall outside a 1-hour window starting at 14:30")
}

func TestIsInActivityPeriodReflexiveOnStart(t *testing.T) {
	period := Period{Start: "0 9 * *", Duration: "0 2 0 0"}
	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.Local)
	start := PreviousTrigger(period, now)
	assert.True(t, IsInActivityPeriod(period, start),
		"is_in_activity_period must be true at the instant previous_trigger returns, for a positive duration")
}

func TestParsePeriodWildcards(t *testing.T) {
	minutes, hours, days, dow := ParsePeriod("* * * *", false)
	assert.Equal(t, -1, minutes)
	assert.Equal(t, -1, hours)
	assert.Equal(t, -1, days)
	assert.Equal(t, -1, dow)

	durMinutes, durHours, durDays, _ := ParsePeriod("* * * *", true)
	assert.Equal(t, 0, durMinutes)
	assert.Equal(t, 0, durHours)
	assert.Equal(t, 0, durDays)
}
