package notify

import (
	"context"
	"fmt"

	"github.com/tibacloud/booking-platform/internal/scheduling"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

// BookingNotifier emails patients when a paid booking is confirmed. It sits
// behind the finalizer as a fire-and-forget collaborator; delivery failures
// never unwind a finalized booking.
type BookingNotifier struct {
	sender EmailSender
	logger *logging.Logger
}

func NewBookingNotifier(sender EmailSender, logger *logging.Logger) *BookingNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{sender: sender, logger: logger}
}

// BookingConfirmed sends the confirmation email. Patients without an email
// address on file are only logged; SMS confirmation rides on the gateway's
// own receipt message.
func (n *BookingNotifier) BookingConfirmed(ctx context.Context, email, phone string, b *scheduling.Booking, receipt string) error {
	if email == "" {
		n.logger.Info("no patient email on file, skipping confirmation",
			"booking_id", b.ID, "phone", phone)
		return nil
	}

	body := fmt.Sprintf(
		"Your %s appointment on %s is confirmed.\n\nAmount paid: KES %.2f\nReceipt: %s\nBooking reference: %s\n",
		b.ProviderType,
		b.ScheduledAt.Format("Mon, 2 Jan 2006 at 15:04"),
		float64(b.AmountCents)/100,
		receipt,
		b.ID,
	)
	msg := EmailMessage{
		To:      email,
		Subject: "Your booking is confirmed",
		Body:    body,
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking confirmation: %w", err)
	}
	return nil
}
