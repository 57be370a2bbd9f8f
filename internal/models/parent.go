package models

import "time"

// Parent is a portal account, keyed by the school matricule.
type Parent struct {
	ID                  string     `json:"id" db:"id"`
	FullName            string     `json:"full_name" db:"full_name"`
	AccessCodeHash      string     `json:"-" db:"access_code_hash"`
	FCMToken            string     `json:"-" db:"fcm_token"`
	NotificationEnabled bool       `json:"notification_enabled" db:"notification_enabled"`
	LastTokenUpdate     *time.Time `json:"last_token_update,omitempty" db:"last_token_update"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

type ChildKind string

const (
	ChildKindPrimary   ChildKind = "primary"
	ChildKindSecondary ChildKind = "secondary"
)

// Child is a student linked to a parent account. Grades and homework are
// class-scoped and only published for secondary students.
type Child struct {
	ID        string    `json:"id" db:"id"`
	ParentID  string    `json:"parent_id" db:"parent_id"`
	FullName  string    `json:"full_name" db:"full_name"`
	ClassName string    `json:"class_name" db:"class_name"`
	Kind      ChildKind `json:"kind" db:"kind"`
}
