package models

import "time"

// Role names seeded in the roles table.
const (
	RoleAdmin     = "Admin"
	RoleLibrarian = "Bibliotecario"
	RoleDigitizer = "Digitalizador"
)

// Role is a row of the roles table.
type Role struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// User represents an application user stored in the users table.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Names        string    `db:"names" json:"names"`
	Surnames     string    `db:"surnames" json:"surnames"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	RoleID       int64     `db:"role_id" json:"role_id"`
	RoleName     string    `db:"role_name" json:"role_name"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins names and surnames.
func (u User) FullName() string {
	if u.Surnames == "" {
		return u.Names
	}
	return u.Names + " " + u.Surnames
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Names    *string
	Surnames *string
	Email    *string
	RoleID   *int64
	Active   *bool
	Page     int
	PageSize int
}

// CreateUserRequest payload for creating users.
type CreateUserRequest struct {
	Names    string `json:"names" validate:"notblank,max=100"`
	Surnames string `json:"surnames" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,password_policy"`
	RoleID   int64  `json:"role_id" validate:"gt=0"`
}

// UpdateUserRequest payload for updating user profile data.
type UpdateUserRequest struct {
	Names    string `json:"names" validate:"notblank,max=100"`
	Surnames string `json:"surnames" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	RoleID   int64  `json:"role_id" validate:"gt=0"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
