package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies which kind of provider a booking is against.
type ProviderType string

const (
	ProviderDoctor  ProviderType = "doctor"
	ProviderLab     ProviderType = "lab"
	ProviderNursing ProviderType = "nursing"
)

// Valid reports whether the provider type is one of the known values.
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderDoctor, ProviderLab, ProviderNursing:
		return true
	}
	return false
}

// Status is the booking lifecycle state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
	StatusNoShow     Status = "no_show"
)

// HoldsSlot reports whether a booking in this status occupies its slot.
// Cancelled/rejected/terminal statuses release the slot immediately.
func (s Status) HoldsSlot() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

// slotHoldingStatuses is the SQL-side mirror of Status.HoldsSlot.
var slotHoldingStatuses = []string{
	string(StatusScheduled),
	string(StatusConfirmed),
	string(StatusInProgress),
}

// Booking is one patient's reservation of one provider slot.
type Booking struct {
	ID               uuid.UUID
	ProviderID       uuid.UUID
	ProviderType     ProviderType
	PatientID        uuid.UUID
	ScheduledAt      time.Time
	EndsAt           *time.Time
	Status           Status
	PaymentReference *string
	AmountCents      int64
	IsPaid           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var (
	// ErrSlotTaken is returned when another booking already holds the slot.
	ErrSlotTaken = errors.New("scheduling: slot already taken")
	// ErrNotFound is returned when the booking does not exist.
	ErrNotFound = errors.New("scheduling: booking not found")
	// ErrInvalidSlot is returned for slot starts off the provider grid.
	ErrInvalidSlot = errors.New("scheduling: slot start not on provider grid")
	// ErrPastDate is returned when the requested date or slot is in the past.
	ErrPastDate = errors.New("scheduling: date is in the past")
	// ErrUnknownPatient is returned when the patient id cannot be resolved.
	ErrUnknownPatient = errors.New("scheduling: unknown patient")
	// ErrInvalidTransition is returned for lifecycle moves the state machine forbids.
	ErrInvalidTransition = errors.New("scheduling: invalid status transition")
	// ErrNotDeletable is returned when deleting a booking past the scheduled stage.
	ErrNotDeletable = errors.New("scheduling: booking can no longer be deleted")
)
