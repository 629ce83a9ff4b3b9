// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackerlist

import (
	"strings"
	"time"
)

// Interval is the auto update cadence selected by the user.
type Interval string

const (
	IntervalDaily   Interval = "1d"
	IntervalWeekly  Interval = "1w"
	IntervalMonthly Interval = "1m"
)

var intervalDurations = map[Interval]time.Duration{
	IntervalDaily:   24 * time.Hour,
	IntervalWeekly:  7 * 24 * time.Hour,
	IntervalMonthly: 30 * 24 * time.Hour,
}

// Duration returns the wait between updates. ok is false for unknown values.
func (i Interval) Duration() (time.Duration, bool) {
	d, ok := intervalDurations[i]
	return d, ok
}

// Valid reports whether the interval is one of the known options.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// ParseInterval accepts the short codes as well as their long names.
// Unknown input is returned as-is so callers can still store and report it.
func ParseInterval(s string) Interval {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "daily", "day":
		return IntervalDaily
	case "weekly", "week":
		return IntervalWeekly
	case "monthly", "month":
		return IntervalMonthly
	default:
		return Interval(v)
	}
}
