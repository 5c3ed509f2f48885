package payments

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Gateway names the payment rail a session runs on.
type Gateway string

const (
	GatewayMpesa   Gateway = "mpesa"
	GatewayPesapal Gateway = "pesapal"
)

// Valid reports whether the gateway is one of the supported rails.
func (g Gateway) Valid() bool {
	return g == GatewayMpesa || g == GatewayPesapal
}

// SessionStatus is the payment session lifecycle state. Sessions move
// forward only: once succeeded, failed, or expired they never change again.
type SessionStatus string

const (
	StatusInitiated SessionStatus = "initiated"
	StatusPending   SessionStatus = "pending"
	StatusSucceeded SessionStatus = "succeeded"
	StatusFailed    SessionStatus = "failed"
	StatusExpired   SessionStatus = "expired"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// openStatuses is the SQL-side mirror of the non-terminal states.
var openStatuses = []string{string(StatusInitiated), string(StatusPending)}

// Session is one attempt to collect payment for a booking intent. With no
// BookingID the booking does not exist until the session succeeds; the
// intent columns carry everything the finalizer needs to create it. With a
// BookingID the session pays for an existing hold, which the finalizer
// confirms instead of inserting.
type Session struct {
	Reference   string
	Gateway     Gateway
	ProviderRef *string
	Status      SessionStatus

	ProviderID   uuid.UUID
	ProviderType string
	PatientID    uuid.UUID
	ServiceID    *uuid.UUID
	ScheduledAt  time.Time
	EndsAt       *time.Time
	BookingID    *uuid.UUID

	AmountCents int64
	Currency    string
	Phone       string
	Email       string

	ReceiptNumber *string
	FailureReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session's collection window has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == StatusExpired || (!s.Status.Terminal() && now.After(s.ExpiresAt))
}

// Outcome is a gateway's verdict on a session, from a callback or a poll.
type Outcome struct {
	Status        SessionStatus
	ReceiptNumber string
	FailureReason string
	AmountCents   int64
	Phone         string
	PaidAt        time.Time
}

var (
	// ErrSessionNotFound is returned when no session has the reference.
	ErrSessionNotFound = errors.New("payments: session not found")
	// ErrSessionClosed is returned when a terminal session is asked to move.
	ErrSessionClosed = errors.New("payments: session already in a terminal state")
	// ErrGatewayUnavailable is returned when the gateway cannot be reached
	// or rejects the request outright; no session is recorded.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrInvalidRequest is returned for malformed session parameters.
	ErrInvalidRequest = errors.New("payments: invalid session request")
)
