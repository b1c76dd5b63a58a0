package interval

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidInterval = errors.New("invalid interval: end must be after start")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// New validates and builds an interval. A zero or negative length is rejected.
func New(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w: start=%s end=%s", ErrInvalidInterval, start, end)
	}
	return Interval{Start: start, End: end}, nil
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Merge sorts intervals by start and coalesces overlapping or adjacent ones.
// The input slice is not modified.
func Merge(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}

	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}

	return merged
}

// Subtract returns the ordered gaps of window not covered by any busy
// interval. Busy intervals may lie partially or fully outside the window;
// they are clipped. A busy set covering the whole window yields no gaps.
func Subtract(window Interval, busy []Interval) []Interval {
	var free []Interval

	cursor := window.Start
	for _, b := range Merge(busy) {
		if !b.End.After(window.Start) || !b.Start.Before(window.End) {
			continue // entirely outside the window
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: minTime(b.Start, window.End)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(window.End) {
			return free
		}
	}

	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}

	return free
}

// Slice cuts iv into consecutive sub-intervals of exactly slotLen, ascending
// by start. A trailing remainder shorter than slotLen is dropped.
func Slice(iv Interval, slotLen time.Duration) []Interval {
	if slotLen <= 0 {
		return nil
	}

	var slots []Interval
	for s := iv.Start; !s.Add(slotLen).After(iv.End); s = s.Add(slotLen) {
		slots = append(slots, Interval{Start: s, End: s.Add(slotLen)})
	}
	return slots
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
