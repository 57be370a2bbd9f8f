package models

import "time"

// DeviceRegistration is one row per distinct device token. Registrations are
// never hard-deleted: the maintenance sweep flips Active to false once
// LastUsed falls outside the retention window, preserving audit history.
type DeviceRegistration struct {
	Token     string    `json:"token" db:"token"`
	ParentID  string    `json:"parent_id" db:"parent_id"`
	Platform  string    `json:"platform" db:"platform"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	LastUsed  time.Time `json:"last_used" db:"last_used"`
	Active    bool      `json:"active" db:"active"`
}

// DeviceRetentionDays is how long an unused registration stays active.
const DeviceRetentionDays = 30
