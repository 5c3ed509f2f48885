package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// heldLister is the slice of the booking store the calendar reads from.
type heldLister interface {
	ListHeldBetween(ctx context.Context, providerID uuid.UUID, pt ProviderType, from, to time.Time) ([]Booking, error)
}

// Calendar answers availability questions for a provider's day. It never
// writes; reservation goes through the store's guarded insert.
type Calendar struct {
	store heldLister
}

// NewCalendar creates a read-only slot calendar over the booking store.
func NewCalendar(store heldLister) *Calendar {
	if store == nil {
		panic("scheduling: booking store required")
	}
	return &Calendar{store: store}
}

// DaySlot is one grid slot on a given day with its availability.
type DaySlot struct {
	Start     time.Time `json:"start"`
	Available bool      `json:"available"`
}

// OccupiedSlots returns the slot starts held on the given date, expanded so
// a visit spanning several slots blocks each one it covers.
func (c *Calendar) OccupiedSlots(ctx context.Context, providerID uuid.UUID, pt ProviderType, date time.Time) (map[time.Time]bool, error) {
	grid := GridFor(pt)
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	held, err := c.store.ListHeldBetween(ctx, providerID, pt, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("scheduling: occupied slots: %w", err)
	}
	occupied := make(map[time.Time]bool, len(held))
	for _, b := range held {
		for _, slot := range grid.Span(b.ScheduledAt, b.EndsAt) {
			occupied[slot] = true
		}
	}
	return occupied, nil
}

// DaySlots returns the full grid for a date with per-slot availability.
// A closed day yields an empty list.
func (c *Calendar) DaySlots(ctx context.Context, providerID uuid.UUID, pt ProviderType, date time.Time) ([]DaySlot, error) {
	grid := GridFor(pt)
	if !grid.OpenOn(date) {
		return []DaySlot{}, nil
	}
	occupied, err := c.OccupiedSlots(ctx, providerID, pt, date)
	if err != nil {
		return nil, err
	}
	starts := grid.SlotsOn(date)
	out := make([]DaySlot, 0, len(starts))
	for _, start := range starts {
		out = append(out, DaySlot{Start: start, Available: !occupied[start]})
	}
	return out, nil
}

// IsDateFullyBooked reports whether every slot on the date is held.
// Closed days count as fully booked.
func (c *Calendar) IsDateFullyBooked(ctx context.Context, providerID uuid.UUID, pt ProviderType, date time.Time) (bool, error) {
	grid := GridFor(pt)
	if !grid.OpenOn(date) {
		return true, nil
	}
	occupied, err := c.OccupiedSlots(ctx, providerID, pt, date)
	if err != nil {
		return false, err
	}
	return len(occupied) >= grid.Size(), nil
}

// IsSlotAvailable reports whether the interval [start, end) is free.
// A nil end means a single slot.
func (c *Calendar) IsSlotAvailable(ctx context.Context, providerID uuid.UUID, pt ProviderType, start time.Time, end *time.Time) (bool, error) {
	grid := GridFor(pt)
	if !grid.Aligned(start) {
		return false, nil
	}
	occupied, err := c.OccupiedSlots(ctx, providerID, pt, start)
	if err != nil {
		return false, err
	}
	for _, slot := range grid.Span(start, end) {
		if occupied[slot] {
			return false, nil
		}
	}
	return true, nil
}
