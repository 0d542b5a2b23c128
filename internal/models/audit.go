package models

import "time"

// AuditEntry is an append-only record of a mutating action.
type AuditEntry struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	ActionID     int64     `db:"action_id" json:"action_id"`
	TargetTypeID int64     `db:"target_type_id" json:"target_type_id"`
	TargetID     int64     `db:"target_id" json:"target_id"`
	RecordedAt   time.Time `db:"recorded_at" json:"recorded_at"`
}

// HistoryEntry is an audit entry joined with its lookup names.
type HistoryEntry struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	UserEmail  string    `db:"user_email" json:"user_email"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"target_type"`
	TargetID   int64     `db:"target_id" json:"target_id"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// HistoryFilter narrows an audit trail search. From and To are whole days, both inclusive.
// Offset takes precedence over Page when set.
type HistoryFilter struct {
	UserID       *int64
	ActionID     *int64
	TargetTypeID *int64
	TargetID     *int64
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
	Offset       *int
}
