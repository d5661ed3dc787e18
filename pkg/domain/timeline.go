package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Granularity is the smallest step of a timeline.
type Granularity string

// Supported timeline granularities.
const (
	// GranularityDay steps by one calendar day (date columns).
	GranularityDay Granularity = "day"
	// GranularitySecond steps by one second (date-time columns).
	GranularitySecond Granularity = "second"
)

// ParseGranularity maps a textual granularity to its constant.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "date", "":
		return GranularityDay, nil
	case "second", "datetime":
		return GranularitySecond, nil
	default:
		return "", errors.Newf("unknown granularity %q", s)
	}
}

// Sentinel bounds shared by the default timelines.
var (
	DefaultMin = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	DefaultMax = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Timeline describes the scalar domain of a period kind: its step and the
// sentinel bounds standing for "since the beginning" and "until the end".
type Timeline struct {
	Granularity Granularity
	Min         time.Time
	Max         time.Time
}

// DateTimeline returns a day-granular timeline with the default sentinels.
func DateTimeline() Timeline {
	return Timeline{Granularity: GranularityDay, Min: DefaultMin, Max: DefaultMax}
}

// DateTimeTimeline returns a second-granular timeline with the default sentinels.
func DateTimeTimeline() Timeline {
	return Timeline{Granularity: GranularitySecond, Min: DefaultMin, Max: DefaultMax}
}

// Next returns the successor of t.
func (tl Timeline) Next(t time.Time) time.Time {
	if tl.Granularity == GranularitySecond {
		return t.Add(time.Second)
	}
	return t.AddDate(0, 0, 1)
}

// Prev returns the predecessor of t.
func (tl Timeline) Prev(t time.Time) time.Time {
	if tl.Granularity == GranularitySecond {
		return t.Add(-time.Second)
	}
	return t.AddDate(0, 0, -1)
}

// Truncate normalizes t to the timeline's granularity in UTC. Day timelines
// keep the calendar date of t in its own location.
func (tl Timeline) Truncate(t time.Time) time.Time {
	if tl.Granularity == GranularitySecond {
		return t.UTC().Truncate(time.Second)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsMin reports whether t is the lower sentinel.
func (tl Timeline) IsMin(t time.Time) bool { return t.Equal(tl.Min) }

// IsMax reports whether t is the upper sentinel.
func (tl Timeline) IsMax(t time.Time) bool { return t.Equal(tl.Max) }

// Contains reports whether p covers t once t is truncated to the timeline's
// granularity.
func (tl Timeline) Contains(p Period, t time.Time) bool {
	return p.Covers(tl.Truncate(t))
}

// Adjacent reports whether b starts right after a ends.
func (tl Timeline) Adjacent(a, b Period) bool {
	if !a.HasBounds() || !b.HasBounds() {
		return false
	}
	return tl.Next(*a.EndAt).Equal(*b.StartAt)
}

// Format renders t at the timeline's precision.
func (tl Timeline) Format(t time.Time) string {
	if tl.Granularity == GranularitySecond {
		return t.UTC().Format(time.DateTime)
	}
	return t.Format(time.DateOnly)
}

// Parse reads a bound written at the timeline's precision. The literals
// "min" and "max" resolve to the sentinels.
func (tl Timeline) Parse(s string) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min":
		return tl.Min, nil
	case "max":
		return tl.Max, nil
	}
	layouts := []string{time.DateOnly, time.DateTime, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
			return tl.Truncate(t), nil
		}
	}
	return time.Time{}, errors.Newf("cannot parse %q as a %s bound", s, tl.Granularity)
}
