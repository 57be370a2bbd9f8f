package notification

// Tier names which delivery path handled a notification.
type Tier string

const (
	// TierTransport means the push transport accepted the message.
	TierTransport Tier = "transport"
	// TierLocal means delivery happened through the connected-client
	// fallback after the transport declined.
	TierLocal Tier = "local"
	// TierNone means nothing was delivered (suppressed or failed outright).
	TierNone Tier = "none"
)

// Outcome reports what happened to one dispatch. A suppressed notification
// is Delivered=false with Reason "suppressed" and a nil error; only
// infrastructure problems surface as errors.
type Outcome struct {
	Delivered bool   `json:"success"`
	Tier      Tier   `json:"tier,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
