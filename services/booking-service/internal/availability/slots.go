package availability

import "time"

// Slot is a candidate consultation start time derived from a doctor's weekly
// template. Slots are ephemeral; they are recomputed on every query and never
// persisted.
type Slot struct {
	Value   string `json:"value"`   // HH:MM:SS
	Display string `json:"display"` // h:mm AM/PM
}

const (
	valueLayout   = "15:04:05"
	displayLayout = "3:04 PM"
)

func NewSlot(t time.Time) Slot {
	return Slot{
		Value:   t.Format(valueLayout),
		Display: t.Format(displayLayout),
	}
}

// SlotStarts returns the ordered start times start, start+d, start+2d, ...
// for which the whole slot [t, t+d) fits inside [start, end). A trailing
// partial interval is dropped. Pure and deterministic.
func SlotStarts(start, end time.Time, d time.Duration) []time.Time {
	if d <= 0 || !end.After(start) {
		return nil
	}
	var out []time.Time
	for t := start; !t.Add(d).After(end); t = t.Add(d) {
		out = append(out, t)
	}
	return out
}

// Free filters candidates down to those whose clock value is not in booked.
// Order is preserved. Always returns a non-nil slice.
func Free(candidates []time.Time, booked []string) []Slot {
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}
	out := make([]Slot, 0, len(candidates))
	for _, t := range candidates {
		if _, ok := taken[t.Format(valueLayout)]; ok {
			continue
		}
		out = append(out, NewSlot(t))
	}
	return out
}

// ClockOn anchors an HH:MM:SS clock value onto the given day.
func ClockOn(day time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(valueLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), c.Second(), 0, day.Location()), nil
}
