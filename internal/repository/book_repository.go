package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

var bookColumns = []string{
	"b.id", "b.title", "b.author", "b.registered_on", "b.page_count", "b.shelf_location",
	"b.shelf_slot", "b.isbn", "b.pdf_path", "b.category_id", "c.name AS category_name",
	"b.state_id", "s.name AS state_name", "b.active", "b.version", "b.created_at", "b.updated_at",
}

var bookSortColumns = map[string]string{
	"id":            "b.id",
	"title":         "b.title",
	"author":        "b.author",
	"registered_on": "b.registered_on",
}

// BookRepository provides database access for books.
type BookRepository struct {
	db *sqlx.DB
}

// NewBookRepository creates a new instance of BookRepository.
func NewBookRepository(db *sqlx.DB) *BookRepository {
	return &BookRepository{db: db}
}

func (r *BookRepository) selectBooks() sq.SelectBuilder {
	return qb.Select(bookColumns...).
		From("books b").
		Join("lifecycle_states s ON s.id = b.state_id").
		LeftJoin("categories c ON c.id = b.category_id")
}

// Create inserts book and fills its generated id, version and timestamps.
func (r *BookRepository) Create(ctx context.Context, book *models.Book) error {
	const query = `INSERT INTO books (title, author, registered_on, page_count, shelf_location, shelf_slot, isbn, state_id, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
RETURNING id, version, active, created_at, updated_at`
	row := database.Ext(ctx, r.db).QueryRowxContext(ctx, query,
		book.Title, book.Author, book.RegisteredOn, book.PageCount,
		book.ShelfLocation, book.ShelfSlot, book.ISBN, book.StateID)
	if err := row.Scan(&book.ID, &book.Version, &book.Active, &book.CreatedAt, &book.UpdatedAt); err != nil {
		return fmt.Errorf("create book: %w", err)
	}
	return nil
}

// FindByID returns a book by identifier.
func (r *BookRepository) FindByID(ctx context.Context, id int64) (*models.Book, error) {
	query, args, err := r.selectBooks().Where(sq.Eq{"b.id": id}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find book: %w", err)
	}
	var book models.Book
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find book by id: %w", err)
	}
	return &book, nil
}

// UpdateLifecycle persists the lifecycle fields of book (state, pdf path, category) when the
// stored version still equals book.Version, then bumps the version.
func (r *BookRepository) UpdateLifecycle(ctx context.Context, book *models.Book) error {
	const query = `UPDATE books SET state_id = $1, pdf_path = $2, category_id = $3, version = version + 1, updated_at = NOW()
WHERE id = $4 AND version = $5
RETURNING version, updated_at`
	return r.guardedUpdate(ctx, "update book lifecycle", book, query,
		book.StateID, book.PDFPath, book.CategoryID, book.ID, book.Version)
}

// UpdateDetails persists descriptive metadata under the same version guard.
func (r *BookRepository) UpdateDetails(ctx context.Context, book *models.Book) error {
	const query = `UPDATE books SET title = $1, author = $2, registered_on = $3, page_count = $4, shelf_location = $5,
shelf_slot = $6, isbn = $7, version = version + 1, updated_at = NOW()
WHERE id = $8 AND version = $9
RETURNING version, updated_at`
	return r.guardedUpdate(ctx, "update book details", book, query,
		book.Title, book.Author, book.RegisteredOn, book.PageCount, book.ShelfLocation,
		book.ShelfSlot, book.ISBN, book.ID, book.Version)
}

// SetActive toggles the soft-delete flag under the version guard.
func (r *BookRepository) SetActive(ctx context.Context, book *models.Book) error {
	const query = `UPDATE books SET active = $1, version = version + 1, updated_at = NOW()
WHERE id = $2 AND version = $3
RETURNING version, updated_at`
	return r.guardedUpdate(ctx, "set book active", book, query, book.Active, book.ID, book.Version)
}

func (r *BookRepository) guardedUpdate(ctx context.Context, op string, book *models.Book, query string, args ...interface{}) error {
	row := database.Ext(ctx, r.db).QueryRowxContext(ctx, query, args...)
	if err := row.Scan(&book.Version, &book.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleVersion
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Search streams the books matching filter. The query runs when iteration starts and again
// on every new iteration.
func (r *BookRepository) Search(ctx context.Context, filter models.BookFilter) iter.Seq2[models.Book, error] {
	return func(yield func(models.Book, error) bool) {
		query, args, err := r.searchQuery(filter).ToSql()
		if err != nil {
			yield(models.Book{}, fmt.Errorf("build book search: %w", err))
			return
		}
		rows, err := database.Ext(ctx, r.db).QueryxContext(ctx, query, args...)
		if err != nil {
			yield(models.Book{}, fmt.Errorf("search books: %w", err))
			return
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var book models.Book
			if err := rows.StructScan(&book); err != nil {
				yield(models.Book{}, fmt.Errorf("scan book: %w", err))
				return
			}
			if !yield(book, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Book{}, fmt.Errorf("iterate books: %w", err))
		}
	}
}

func (r *BookRepository) searchQuery(filter models.BookFilter) sq.SelectBuilder {
	q := r.selectBooks()
	if filter.Title != nil {
		q = q.Where(sq.ILike{"b.title": containsPattern(*filter.Title)})
	}
	if filter.Author != nil {
		q = q.Where(sq.ILike{"b.author": containsPattern(*filter.Author)})
	}
	if filter.ISBN != nil {
		q = q.Where(sq.ILike{"b.isbn": containsPattern(*filter.ISBN)})
	}
	if filter.CategoryID != nil {
		q = q.Where(sq.Eq{"b.category_id": *filter.CategoryID})
	}
	if filter.StateID != nil {
		q = q.Where(sq.Eq{"b.state_id": *filter.StateID})
	}
	if !filter.IncludeInactive {
		q = q.Where(sq.Eq{"b.active": true})
	}

	column, ok := bookSortColumns[filter.SortBy]
	if !ok {
		column = "b.id"
	}
	order := "ASC"
	if strings.EqualFold(filter.SortOrder, "desc") {
		order = "DESC"
	}
	q = q.OrderBy(column + " " + order)
	if column != "b.id" {
		q = q.OrderBy("b.id ASC")
	}
	return q
}
