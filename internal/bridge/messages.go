// Package bridge is the bidirectional message channel between the
// background daemon and open application clients. Delivery is
// fire-and-forget: no message is acknowledged and slow clients lose
// messages rather than block the daemon.
package bridge

import (
	"encoding/json"

	"github.com/lacolombe/portal-notify/internal/models"
)

// Client -> daemon message types.
const (
	TypeInitializeSession = "INITIALIZE_SESSION"
	TypeClearBadge        = "CLEAR_BADGE"
	TypeCheckNow          = "CHECK_NOW"
	TypePing              = "PING"
)

// Daemon -> client message types.
const (
	TypeNewNotification          = "NEW_NOTIFICATION"
	TypeNavigateFromNotification = "NAVIGATE_FROM_NOTIFICATION"
	TypeUpdateBadge              = "UPDATE_BADGE"
	TypePong                     = "PONG"
	TypeStatus                   = "STATUS"
)

// Envelope is the wire frame for every bridge message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload. A payload that fails to marshal yields an
// envelope with empty data, which receivers treat as a bare signal.
func NewEnvelope(msgType string, payload any) Envelope {
	env := Envelope{Type: msgType}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			env.Data = data
		}
	}
	return env
}

// InitializeSessionPayload establishes or refreshes the watched parent
// session. Repeats for the same parent supersede prior subscriptions.
type InitializeSessionPayload struct {
	ParentID string         `json:"parentId"`
	Children []models.Child `json:"children"`
}

type NewNotificationPayload struct {
	Notification models.NotificationRequest `json:"notification"`
}

type NavigatePayload struct {
	Data models.NotificationData `json:"data"`
}

type UpdateBadgePayload struct {
	Count int `json:"count"`
}

type PongPayload struct {
	Version string `json:"version"`
}

type StatusPayload struct {
	Version     string `json:"version"`
	Initialized bool   `json:"initialized"`
	User        string `json:"user,omitempty"`
}
