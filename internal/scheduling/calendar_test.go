package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeHeldLister struct {
	held []Booking
	err  error
}

func (f *fakeHeldLister) ListHeldBetween(_ context.Context, _ uuid.UUID, _ ProviderType, _, _ time.Time) ([]Booking, error) {
	return f.held, f.err
}

func TestDaySlotsMarksOccupied(t *testing.T) {
	day := date(2026, time.September, 7)
	taken := day.Add(9 * time.Hour)
	cal := NewCalendar(&fakeHeldLister{held: []Booking{
		{ScheduledAt: taken, Status: StatusScheduled},
	}})

	slots, err := cal.DaySlots(context.Background(), uuid.New(), ProviderDoctor, day)
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	if len(slots) != 20 {
		t.Fatalf("expected 20 slots, got %d", len(slots))
	}
	for _, s := range slots {
		want := !s.Start.Equal(taken)
		if s.Available != want {
			t.Errorf("slot %s: available=%v, want %v", s.Start.Format("15:04"), s.Available, want)
		}
	}
}

func TestDaySlotsSpanBlocksEveryCoveredSlot(t *testing.T) {
	day := date(2026, time.September, 7)
	start := day.Add(10 * time.Hour)
	end := start.Add(2 * time.Hour)
	cal := NewCalendar(&fakeHeldLister{held: []Booking{
		{ScheduledAt: start, EndsAt: &end, Status: StatusConfirmed},
	}})

	slots, err := cal.DaySlots(context.Background(), uuid.New(), ProviderNursing, day)
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	blocked := map[int]bool{10: true, 11: true}
	for _, s := range slots {
		want := !blocked[s.Start.Hour()]
		if s.Available != want {
			t.Errorf("slot %s: available=%v, want %v", s.Start.Format("15:04"), s.Available, want)
		}
	}
}

func TestDaySlotsEmptyOnClosedDay(t *testing.T) {
	cal := NewCalendar(&fakeHeldLister{})
	sunday := date(2026, time.September, 6)
	slots, err := cal.DaySlots(context.Background(), uuid.New(), ProviderLab, sunday)
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on Sunday for lab, got %d", len(slots))
	}
}

func TestIsDateFullyBooked(t *testing.T) {
	day := date(2026, time.September, 7)
	grid := GridFor(ProviderDoctor)
	var held []Booking
	for _, slot := range grid.SlotsOn(day) {
		held = append(held, Booking{ScheduledAt: slot, Status: StatusScheduled})
	}
	cal := NewCalendar(&fakeHeldLister{held: held})

	full, err := cal.IsDateFullyBooked(context.Background(), uuid.New(), ProviderDoctor, day)
	if err != nil {
		t.Fatalf("IsDateFullyBooked: %v", err)
	}
	if !full {
		t.Fatalf("expected day fully booked")
	}

	cal = NewCalendar(&fakeHeldLister{held: held[:len(held)-1]})
	full, err = cal.IsDateFullyBooked(context.Background(), uuid.New(), ProviderDoctor, day)
	if err != nil {
		t.Fatalf("IsDateFullyBooked: %v", err)
	}
	if full {
		t.Fatalf("expected one free slot")
	}
}

func TestIsSlotAvailable(t *testing.T) {
	day := date(2026, time.September, 7)
	start := day.Add(10 * time.Hour)
	end := start.Add(2 * time.Hour)
	cal := NewCalendar(&fakeHeldLister{held: []Booking{
		{ScheduledAt: start, EndsAt: &end, Status: StatusInProgress},
	}})

	ok, err := cal.IsSlotAvailable(context.Background(), uuid.New(), ProviderNursing, day.Add(11*time.Hour), nil)
	if err != nil {
		t.Fatalf("IsSlotAvailable: %v", err)
	}
	if ok {
		t.Fatalf("expected slot inside held span unavailable")
	}

	ok, err = cal.IsSlotAvailable(context.Background(), uuid.New(), ProviderNursing, day.Add(12*time.Hour), nil)
	if err != nil {
		t.Fatalf("IsSlotAvailable: %v", err)
	}
	if !ok {
		t.Fatalf("expected slot after held span available")
	}

	ok, err = cal.IsSlotAvailable(context.Background(), uuid.New(), ProviderNursing, day.Add(12*time.Hour+15*time.Minute), nil)
	if err != nil {
		t.Fatalf("IsSlotAvailable: %v", err)
	}
	if ok {
		t.Fatalf("expected off-grid start unavailable")
	}
}
