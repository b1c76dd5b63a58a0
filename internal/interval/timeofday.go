package interval

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time within a day, stored as minutes since
// midnight. It carries no date and no zone; anchoring to a calendar date
// happens via On.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h). Longer strings such as "09:00:00"
// are accepted; everything past the minutes is ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) > 5 {
		s = s[:5]
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MinutesOfDay extracts the TimeOfDay from a timestamp's wall clock.
func MinutesOfDay(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int    { return int(t) / 60 }
func (t TimeOfDay) Minute() int  { return int(t) % 60 }
func (t TimeOfDay) Minutes() int { return int(t) }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On anchors the time of day to the calendar date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	year, month, day := d.Date()
	return time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, d.Location())
}

// Window builds the concrete interval [start, end) on the given date.
func Window(d time.Time, start, end TimeOfDay) (Interval, error) {
	return New(start.On(d), end.On(d))
}
