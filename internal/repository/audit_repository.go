package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

// AuditFilter narrows history queries. From is inclusive and Before exclusive.
type AuditFilter struct {
	TargetTypeID *int64
	TargetID     *int64
	UserID       *int64
	ActionID     *int64
	From         *time.Time
	Before       *time.Time
	Limit        int
	Offset       int
}

func (f AuditFilter) where() sq.And {
	where := sq.And{}
	if f.TargetTypeID != nil {
		where = append(where, sq.Eq{"a.target_type_id": *f.TargetTypeID})
	}
	if f.TargetID != nil {
		where = append(where, sq.Eq{"a.target_id": *f.TargetID})
	}
	if f.UserID != nil {
		where = append(where, sq.Eq{"a.user_id": *f.UserID})
	}
	if f.ActionID != nil {
		where = append(where, sq.Eq{"a.action_id": *f.ActionID})
	}
	if f.From != nil {
		where = append(where, sq.GtOrEq{"a.recorded_at": *f.From})
	}
	if f.Before != nil {
		where = append(where, sq.Lt{"a.recorded_at": *f.Before})
	}
	return where
}

// AuditRepository appends and reads audit entries.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends entry using the transaction carried by ctx, if any.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	const query = `INSERT INTO audit_entries (user_id, action_id, target_type_id, target_id)
VALUES ($1, $2, $3, $4)
RETURNING id, recorded_at`
	row := database.Ext(ctx, r.db).QueryRowxContext(ctx, query,
		entry.UserID, entry.ActionID, entry.TargetTypeID, entry.TargetID)
	if err := row.Scan(&entry.ID, &entry.RecordedAt); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) selectEntries() sq.SelectBuilder {
	return qb.Select(
		"a.id", "a.user_id", "u.email AS user_email", "ac.name AS action",
		"tt.name AS target_type", "a.target_id", "a.recorded_at",
	).
		From("audit_entries a").
		Join("users u ON u.id = a.user_id").
		Join("actions ac ON ac.id = a.action_id").
		Join("target_types tt ON tt.id = a.target_type_id")
}

// List returns joined history entries, newest first.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]models.HistoryEntry, error) {
	q := r.selectEntries().Where(filter.where()).
		OrderBy("a.recorded_at DESC", "a.id DESC").
		Limit(uint64(clampLimit(filter.Limit, 50, 200)))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	entries := make([]models.HistoryEntry, 0)
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Search returns one page of entries matching filter and the total number of matches.
func (r *AuditRepository) Search(ctx context.Context, filter AuditFilter) ([]models.HistoryEntry, int, error) {
	entries, err := r.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	countQuery, args, err := qb.Select("COUNT(*)").From("audit_entries a").Where(filter.where()).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count audit entries: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}
	return entries, total, nil
}

// FindByID returns one joined entry. A missing entry yields an error wrapping sql.ErrNoRows.
func (r *AuditRepository) FindByID(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	query, args, err := r.selectEntries().Where(sq.Eq{"a.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find audit entry: %w", err)
	}
	var entry models.HistoryEntry
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &entry, query, args...); err != nil {
		return nil, fmt.Errorf("find audit entry %d: %w", id, err)
	}
	return &entry, nil
}
