package scheduling

import "time"

// Grid describes the fixed per-day slot layout for a provider type: the
// operating window, the slot step, and an optional weekly closing day.
// Offsets are minutes from local midnight.
type Grid struct {
	Step       time.Duration
	FirstStart time.Duration
	LastStart  time.Duration
	Closed     time.Weekday
	HasClosed  bool
}

// GridFor returns the slot grid for a provider type.
//
// Doctors see patients in half-hour slots from 08:00 with the last slot at
// 17:30; labs draw samples from 07:00 with the last slot at 16:30 and are
// closed on Sundays; nursing visits are booked on the hour from 08:00 to
// 20:00 and may span several slots.
func GridFor(pt ProviderType) Grid {
	switch pt {
	case ProviderLab:
		return Grid{
			Step:       30 * time.Minute,
			FirstStart: 7 * time.Hour,
			LastStart:  16*time.Hour + 30*time.Minute,
			Closed:     time.Sunday,
			HasClosed:  true,
		}
	case ProviderNursing:
		return Grid{
			Step:       time.Hour,
			FirstStart: 8 * time.Hour,
			LastStart:  20 * time.Hour,
		}
	default: // doctor
		return Grid{
			Step:       30 * time.Minute,
			FirstStart: 8 * time.Hour,
			LastStart:  17*time.Hour + 30*time.Minute,
		}
	}
}

// Size returns the number of slots per open day.
func (g Grid) Size() int {
	return int((g.LastStart-g.FirstStart)/g.Step) + 1
}

// OpenOn reports whether the grid has any slots on the given date.
func (g Grid) OpenOn(date time.Time) bool {
	return !g.HasClosed || date.Weekday() != g.Closed
}

// SlotsOn instantiates every slot start for the given date, in order.
// The result is empty on a closed day.
func (g Grid) SlotsOn(date time.Time) []time.Time {
	if !g.OpenOn(date) {
		return nil
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	slots := make([]time.Time, 0, g.Size())
	for off := g.FirstStart; off <= g.LastStart; off += g.Step {
		slots = append(slots, midnight.Add(off))
	}
	return slots
}

// Aligned reports whether t is a valid slot start: on the step boundary,
// inside the operating window, and not on a closed day.
func (g Grid) Aligned(t time.Time) bool {
	if !g.OpenOn(t) {
		return false
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	off := t.Sub(midnight)
	if off < g.FirstStart || off > g.LastStart {
		return false
	}
	return (off-g.FirstStart)%g.Step == 0
}

// Span returns every slot start covered by the half-open interval
// [start, end). Bookings without an explicit end occupy one slot.
func (g Grid) Span(start time.Time, end *time.Time) []time.Time {
	until := start.Add(g.Step)
	if end != nil && end.After(until) {
		until = *end
	}
	var covered []time.Time
	for _, slot := range g.SlotsOn(start) {
		if !slot.Before(start) && slot.Before(until) {
			covered = append(covered, slot)
		}
	}
	return covered
}
