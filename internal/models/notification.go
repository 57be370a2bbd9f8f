package models

import (
	"encoding/json"
	"time"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// NormalizePriority maps unknown values to normal.
func NormalizePriority(p string) Priority {
	if Priority(p) == PriorityHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// NotificationStatus is the audit outcome of a single send attempt.
type NotificationStatus string

const (
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)

// NotificationData is the structured payload carried by every notification.
// The application's router consumes it: navigate to Page with EntityID /
// EntityName as context. Extra holds category-specific fields (subject,
// severity, dueDate, feeType, ...).
type NotificationData struct {
	Type       Category          `json:"type"`
	Page       string            `json:"page"`
	EntityID   string            `json:"entityId,omitempty"`
	EntityName string            `json:"entityName,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Flatten renders the payload as the flat string map push transports expect.
func (d NotificationData) Flatten() map[string]string {
	out := make(map[string]string, len(d.Extra)+4)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["type"] = string(d.Type)
	out["page"] = d.Page
	if d.EntityID != "" {
		out["entityId"] = d.EntityID
	}
	if d.EntityName != "" {
		out["entityName"] = d.EntityName
	}
	return out
}

// DataFromMap rebuilds a NotificationData from a flat string map, the inverse
// of Flatten. Unknown keys land in Extra.
func DataFromMap(m map[string]string) NotificationData {
	d := NotificationData{Extra: map[string]string{}}
	for k, v := range m {
		switch k {
		case "type":
			d.Type = Category(v)
		case "page":
			d.Page = v
		case "entityId":
			d.EntityID = v
		case "entityName":
			d.EntityName = v
		default:
			d.Extra[k] = v
		}
	}
	if len(d.Extra) == 0 {
		d.Extra = nil
	}
	return d
}

// NotificationRequest is a transient request to notify one parent. It is
// built by the detector (or an API caller) and consumed by the dispatch
// service; it is not persisted beyond the audit trail.
type NotificationRequest struct {
	ParentID string           `json:"parentId"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	Data     NotificationData `json:"data"`
	Priority Priority         `json:"priority"`
}

// Tag is the presentation dedup key: a new notification with the same tag
// replaces the previous one instead of stacking. Events without a stable
// entity id fall back to a timestamp tag.
func (r NotificationRequest) Tag() string {
	if r.Data.EntityID != "" {
		return string(r.Data.Type) + ":" + r.Data.EntityID
	}
	return string(r.Data.Type) + ":" + time.Now().UTC().Format(time.RFC3339Nano)
}

// NotificationRecord is the append-only audit row written after every send
// attempt, success or failure. Never mutated.
type NotificationRecord struct {
	ID            string             `json:"id" db:"id"`
	ParentID      string             `json:"parent_id" db:"parent_id"`
	Title         string             `json:"title" db:"title"`
	Body          string             `json:"body" db:"body"`
	Data          json.RawMessage    `json:"data,omitempty" db:"data"`
	DeliveryToken string             `json:"delivery_token" db:"delivery_token"`
	MessageID     *string            `json:"message_id,omitempty" db:"message_id"`
	Status        NotificationStatus `json:"status" db:"status"`
	Error         *string            `json:"error,omitempty" db:"error_message"`
	Priority      Priority           `json:"priority" db:"priority"`
	SentAt        time.Time          `json:"sent_at" db:"sent_at"`
}

// Stats aggregates the audit trail for one parent over a period.
type Stats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"byType"`
	ByStatus map[string]int `json:"byStatus"`
	ByDay    map[string]int `json:"byDay"`
}
