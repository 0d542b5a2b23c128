package models

import "time"

// Task is a physical review or restoration performed on a book.
type Task struct {
	ID                 int64     `db:"id" json:"id"`
	BookID             int64     `db:"book_id" json:"book_id"`
	UserID             int64     `db:"user_id" json:"user_id"`
	UserName           string    `db:"user_name" json:"user_name,omitempty"`
	StartedOn          time.Time `db:"started_on" json:"started_on"`
	FinishedOn         time.Time `db:"finished_on" json:"finished_on"`
	ResultingStateID   int64     `db:"resulting_state_id" json:"resulting_state_id"`
	ResultingStateName string    `db:"resulting_state_name" json:"resulting_state_name,omitempty"`
	Notes              string    `db:"notes" json:"notes"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	BookID           *int64
	UserID           *int64
	ResultingStateID *int64
	From             *time.Time
	To               *time.Time
	Limit            int
}
