package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

// CategoryRepository provides database access for categories.
type CategoryRepository struct {
	db *sqlx.DB
}

// NewCategoryRepository creates a new instance of CategoryRepository.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// List returns every category ordered by name.
func (r *CategoryRepository) List(ctx context.Context) ([]models.Category, error) {
	const query = `SELECT id, name, description FROM categories ORDER BY name ASC`
	categories := make([]models.Category, 0)
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &categories, query); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// FindByID returns a category by identifier.
func (r *CategoryRepository) FindByID(ctx context.Context, id int64) (*models.Category, error) {
	const query = `SELECT id, name, description FROM categories WHERE id = $1`
	var category models.Category
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &category, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find category by id: %w", err)
	}
	return &category, nil
}

// NameExists reports whether a category with name exists, ignoring case.
func (r *CategoryRepository) NameExists(ctx context.Context, name string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM categories WHERE LOWER(name) = LOWER($1))`
	var exists bool
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &exists, query, name); err != nil {
		return false, fmt.Errorf("check category name: %w", err)
	}
	return exists, nil
}

// Create inserts category and fills its id.
func (r *CategoryRepository) Create(ctx context.Context, category *models.Category) error {
	const query = `INSERT INTO categories (name, description) VALUES ($1, $2) RETURNING id`
	row := database.Ext(ctx, r.db).QueryRowxContext(ctx, query, category.Name, category.Description)
	if err := row.Scan(&category.ID); err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}
