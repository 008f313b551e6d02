package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinutesPerDay = 24 * 60

	// Returned by Duration when either end can't be parsed. Callers
	// must treat a zero duration as unusable.
	DefaultDuration = 0
)

// A GTFS time of day. Hour can exceed 23 for trips running past
// midnight of their service day.
type Clock struct {
	Hour   int
	Minute int
}

// Parses "H:MM", "HH:MM", "HH:MM:SS" and the parser's normalized
// "HHMMSS". Seconds are dropped.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Clock{}, fmt.Errorf("empty time")
	}

	var hStr, mStr string
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return Clock{}, fmt.Errorf("found %d parts in '%s'", len(parts), s)
		}
		hStr, mStr = parts[0], parts[1]
		if len(parts) == 3 {
			if _, err := parseClockField(parts[2], 59); err != nil {
				return Clock{}, fmt.Errorf("invalid second in '%s'", s)
			}
		}
	} else {
		if len(s) != 6 && len(s) != 4 {
			return Clock{}, fmt.Errorf("invalid time '%s'", s)
		}
		hStr, mStr = s[0:2], s[2:4]
		if len(s) == 6 {
			if _, err := parseClockField(s[4:6], 59); err != nil {
				return Clock{}, fmt.Errorf("invalid second in '%s'", s)
			}
		}
	}

	if len(mStr) != 2 {
		return Clock{}, fmt.Errorf("invalid minute in '%s'", s)
	}

	h, err := parseClockField(hStr, 99)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid hour in '%s'", s)
	}
	m, err := parseClockField(mStr, 59)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid minute in '%s'", s)
	}

	return Clock{Hour: h, Minute: m}, nil
}

func parseClockField(s string, max int) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("%d out of range", v)
	}
	return v, nil
}

// Time of day of t, in t's location.
func ClockFromTime(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// GTFS already expresses next-day service as hours >= 24, so no
// rollover adjustment is made here.
func (c Clock) IsAtOrAfter(ref Clock) bool {
	return c.Minutes() >= ref.Minutes()
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes from start to end. An end earlier than start is taken to
// be on the following day.
func (c Clock) Until(end Clock) int {
	d := end.Minutes() - c.Minutes()
	if d < 0 {
		d += MinutesPerDay
	}
	return d
}

// Minutes between two time strings. Returns DefaultDuration if either
// is empty or malformed.
func Duration(start, end string) int {
	s, err := ParseClock(start)
	if err != nil {
		return DefaultDuration
	}
	e, err := ParseClock(end)
	if err != nil {
		return DefaultDuration
	}
	return s.Until(e)
}

// Formats a normalized HHMMSS (or any parseable) time as HH:MM. Returns
// "" for unparseable input.
func DisplayTime(s string) string {
	c, err := ParseClock(s)
	if err != nil {
		return ""
	}
	return c.String()
}
