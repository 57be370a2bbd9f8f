// Package push is the push-notification transport capability: an opaque
// send(token, message) -> messageID operation. The production implementation
// speaks FCM; dispatch and tests only see the Transport interface.
package push

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lacolombe/portal-notify/internal/models"
)

// Transport error classes. Callers never retry automatically; dispatch
// records the failure and the detector falls back to local presentation.
var (
	ErrInvalidToken = errors.New("push: invalid or unregistered token")
	ErrUnavailable  = errors.New("push: transport unavailable")
	ErrRateLimited  = errors.New("push: rate limited")
)

// Message is the transport-level payload: title, body, flat data map, and
// the platform delivery hints dispatch derives from the request.
type Message struct {
	Title              string
	Body               string
	Data               map[string]string
	Priority           models.Priority
	Link               string
	Tag                string
	RequireInteraction bool
}

// Transport sends one message to one device token.
type Transport interface {
	Send(ctx context.Context, token string, msg Message) (messageID string, err error)
}
