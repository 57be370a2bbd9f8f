package push

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogTransport is the transport used when FCM is disabled (local
// development, CI). It logs the send and fabricates a message id so the
// rest of the pipeline behaves normally.
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger.With().Str("component", "push-log").Logger()}
}

func (t *LogTransport) Send(_ context.Context, token string, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	t.logger.Info().
		Str("token", preview(token)).
		Str("title", msg.Title).
		Str("priority", string(msg.Priority)).
		Str("message_id", id).
		Msg("push send (log only)")
	return id, nil
}
