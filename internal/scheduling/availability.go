package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AvailabilityChecker adapts the calendar for callers outside this package
// that hold the provider type as a plain string, e.g. the payment session
// pre-check.
type AvailabilityChecker struct {
	cal *Calendar
}

func NewAvailabilityChecker(cal *Calendar) *AvailabilityChecker {
	if cal == nil {
		panic("scheduling: calendar required")
	}
	return &AvailabilityChecker{cal: cal}
}

// SlotAvailable reports whether [start, end) is free for the provider. An
// unknown provider type is simply unavailable.
func (a *AvailabilityChecker) SlotAvailable(ctx context.Context, providerID uuid.UUID, providerType string, start time.Time, end *time.Time) (bool, error) {
	pt := ProviderType(providerType)
	if !pt.Valid() {
		return false, nil
	}
	return a.cal.IsSlotAvailable(ctx, providerID, pt, start, end)
}
