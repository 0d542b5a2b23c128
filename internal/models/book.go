package models

import "time"

// Book is a physical book tracked through the digitization pipeline.
type Book struct {
	ID            int64     `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Author        string    `db:"author" json:"author"`
	RegisteredOn  time.Time `db:"registered_on" json:"registered_on"`
	PageCount     int       `db:"page_count" json:"page_count"`
	ShelfLocation string    `db:"shelf_location" json:"shelf_location"`
	ShelfSlot     string    `db:"shelf_slot" json:"shelf_slot"`
	ISBN          string    `db:"isbn" json:"isbn"`
	PDFPath       *string   `db:"pdf_path" json:"pdf_path"`
	CategoryID    *int64    `db:"category_id" json:"category_id"`
	CategoryName  *string   `db:"category_name" json:"category_name,omitempty"`
	StateID       int64     `db:"state_id" json:"state_id"`
	StateName     string    `db:"state_name" json:"state_name"`
	Active        bool      `db:"active" json:"active"`
	Version       int64     `db:"version" json:"version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// BookFilter narrows a book search. Nil fields do not filter.
type BookFilter struct {
	Title           *string
	Author          *string
	ISBN            *string
	CategoryID      *int64
	StateID         *int64
	IncludeInactive bool
	SortBy          string
	SortOrder       string
}

// CreateBookRequest registers a new book.
type CreateBookRequest struct {
	Title         string `json:"title" validate:"notblank,max=255"`
	Author        string `json:"author" validate:"notblank,max=255"`
	RegisteredOn  string `json:"registered_on" validate:"required,datetime=2006-01-02"`
	PageCount     int    `json:"page_count" validate:"gt=0"`
	ShelfLocation string `json:"shelf_location" validate:"notblank,max=50"`
	ShelfSlot     string `json:"shelf_slot" validate:"notblank,max=50"`
	ISBN          string `json:"isbn" validate:"max=20"`
}

// UpdateBookRequest replaces the descriptive metadata of a book.
type UpdateBookRequest struct {
	CreateBookRequest
	ExpectedVersion *int64 `json:"-"`
}

// PhysicalReviewRequest records the outcome of a physical condition review.
type PhysicalReviewRequest struct {
	Condition       string `json:"condition" validate:"required,oneof=good needs_restoration"`
	StartDate       string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string `json:"end_date" validate:"required,datetime=2006-01-02"`
	ExpectedVersion *int64 `json:"-"`
}

// RestorationRequest records a completed restoration.
type RestorationRequest struct {
	ConditionNote   string `json:"condition_note" validate:"notblank,max=1000"`
	StartDate       string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string `json:"end_date" validate:"required,datetime=2006-01-02"`
	ExpectedVersion *int64 `json:"-"`
}

// DigitizeRequest attaches an uploaded PDF from the asset store.
type DigitizeRequest struct {
	PDFFileName     string `json:"pdf_file_name" validate:"notblank,max=255"`
	ExpectedVersion *int64 `json:"-"`
}

// ClassifyRequest assigns a category.
type ClassifyRequest struct {
	CategoryID      int64  `json:"category_id" validate:"gt=0"`
	ExpectedVersion *int64 `json:"-"`
}

// BookHistory aggregates everything recorded about a book.
type BookHistory struct {
	Book  *Book          `json:"book"`
	Tasks []Task         `json:"tasks"`
	Audit []HistoryEntry `json:"audit"`
}

// DownloadLink is a time limited URL to the digitized PDF.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
