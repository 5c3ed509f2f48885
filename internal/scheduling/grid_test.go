package scheduling

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGridSizes(t *testing.T) {
	cases := []struct {
		pt   ProviderType
		want int
	}{
		{ProviderDoctor, 20},
		{ProviderLab, 20},
		{ProviderNursing, 13},
	}
	for _, tc := range cases {
		if got := GridFor(tc.pt).Size(); got != tc.want {
			t.Errorf("%s: expected %d slots per day, got %d", tc.pt, tc.want, got)
		}
	}
}

func TestLabClosedOnSunday(t *testing.T) {
	grid := GridFor(ProviderLab)
	sunday := date(2026, time.September, 6)
	if grid.OpenOn(sunday) {
		t.Fatalf("expected lab closed on Sunday")
	}
	if slots := grid.SlotsOn(sunday); len(slots) != 0 {
		t.Fatalf("expected no slots on closed day, got %d", len(slots))
	}
	monday := date(2026, time.September, 7)
	if !grid.OpenOn(monday) {
		t.Fatalf("expected lab open on Monday")
	}
}

func TestSlotsOnBounds(t *testing.T) {
	grid := GridFor(ProviderDoctor)
	day := date(2026, time.September, 7)
	slots := grid.SlotsOn(day)
	if len(slots) != 20 {
		t.Fatalf("expected 20 doctor slots, got %d", len(slots))
	}
	if first := slots[0]; first.Hour() != 8 || first.Minute() != 0 {
		t.Errorf("expected first slot 08:00, got %s", first.Format("15:04"))
	}
	if last := slots[len(slots)-1]; last.Hour() != 17 || last.Minute() != 30 {
		t.Errorf("expected last slot 17:30, got %s", last.Format("15:04"))
	}
}

func TestAligned(t *testing.T) {
	grid := GridFor(ProviderDoctor)
	day := date(2026, time.September, 7)
	cases := []struct {
		at   time.Time
		want bool
	}{
		{day.Add(8 * time.Hour), true},
		{day.Add(17*time.Hour + 30*time.Minute), true},
		{day.Add(8*time.Hour + 15*time.Minute), false},
		{day.Add(7*time.Hour + 30*time.Minute), false},
		{day.Add(18 * time.Hour), false},
	}
	for _, tc := range cases {
		if got := grid.Aligned(tc.at); got != tc.want {
			t.Errorf("Aligned(%s) = %v, want %v", tc.at.Format("15:04"), got, tc.want)
		}
	}

	lab := GridFor(ProviderLab)
	sundaySlot := date(2026, time.September, 6).Add(9 * time.Hour)
	if lab.Aligned(sundaySlot) {
		t.Errorf("expected Sunday slot rejected for lab")
	}
}

func TestSpanCoversMultiSlotVisit(t *testing.T) {
	grid := GridFor(ProviderNursing)
	start := date(2026, time.September, 7).Add(10 * time.Hour)
	end := start.Add(3 * time.Hour)

	covered := grid.Span(start, &end)
	if len(covered) != 3 {
		t.Fatalf("expected 3 covered slots, got %d", len(covered))
	}
	for i, want := range []int{10, 11, 12} {
		if covered[i].Hour() != want {
			t.Errorf("slot %d: expected %02d:00, got %s", i, want, covered[i].Format("15:04"))
		}
	}
}

func TestSpanDefaultsToSingleSlot(t *testing.T) {
	grid := GridFor(ProviderDoctor)
	start := date(2026, time.September, 7).Add(9 * time.Hour)

	covered := grid.Span(start, nil)
	if len(covered) != 1 || !covered[0].Equal(start) {
		t.Fatalf("expected single covered slot at start, got %v", covered)
	}
}
