package models

// LifecycleState is a row of the lifecycle_states reference table.
type LifecycleState struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Description  string `db:"description" json:"description"`
	DisplayOrder int    `db:"display_order" json:"display_order"`
}

// LookupEntry is a row of a named reference table (actions, target types).
type LookupEntry struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`
}
