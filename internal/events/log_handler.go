package events

import (
	"context"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// LogHandler writes outbox entries to the structured log. It stands in for a
// broker transport in deployments that only need an audit feed.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.logger.Info("domain event",
		"event_id", entry.ID,
		"topic", entry.Topic,
		"type", entry.Type,
		"payload", string(entry.Payload),
	)
	return nil
}
