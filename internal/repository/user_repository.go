package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

var userColumns = []string{
	"u.id", "u.names", "u.surnames", "u.email", "u.password_hash", "u.role_id",
	"r.name AS role_name", "u.active", "u.created_at", "u.updated_at",
}

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) selectUsers() sq.SelectBuilder {
	return qb.Select(userColumns...).From("users u").Join("roles r ON r.id = u.role_id")
}

func (r *UserRepository) findOne(ctx context.Context, op string, where sq.Sqlizer) (*models.User, error) {
	query, args, err := r.selectUsers().Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	var user models.User
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address, ignoring case.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "find user by email", sq.Expr("LOWER(u.email) = LOWER(?)", email))
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, "find user by id", sq.Eq{"u.id": id})
}

// EmailTaken reports whether another user (other than excludeID) already uses email.
func (r *UserRepository) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	query, args, err := qb.Select("COUNT(*)").From("users").
		Where(sq.Expr("LOWER(email) = LOWER(?)", email)).
		Where(sq.NotEq{"id": excludeID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build email check: %w", err)
	}
	var count int
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &count, query, args...); err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new user and fills its generated fields.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `INSERT INTO users (names, surnames, email, password_hash, role_id, active)
VALUES (:names, :surnames, :email, :password_hash, :role_id, :active)
RETURNING id, created_at, updated_at`
	rows, err := sqlx.NamedQueryContext(ctx, database.Ext(ctx, r.db), query, user)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return fmt.Errorf("create user: no row returned")
	}
	if err := rows.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return fmt.Errorf("scan created user: %w", err)
	}
	return nil
}

// Update updates the profile fields of a user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	const query = `UPDATE users SET names = :names, surnames = :surnames, email = :email, role_id = :role_id, updated_at = NOW() WHERE id = :id`
	return r.execOne(ctx, "update user", func(ext sqlx.ExtContext) (sql.Result, error) {
		return sqlx.NamedExecContext(ctx, ext, query, user)
	})
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, "update password", func(ext sqlx.ExtContext) (sql.Result, error) {
		return ext.ExecContext(ctx, query, id, passwordHash)
	})
}

// SetActive activates or deactivates a user.
func (r *UserRepository) SetActive(ctx context.Context, id int64, active bool) error {
	const query = `UPDATE users SET active = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, "set user active", func(ext sqlx.ExtContext) (sql.Result, error) {
		return ext.ExecContext(ctx, query, id, active)
	})
}

func (r *UserRepository) execOne(ctx context.Context, op string, exec func(sqlx.ExtContext) (sql.Result, error)) error {
	res, err := exec(database.Ext(ctx, r.db))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	where := sq.And{}
	if filter.Names != nil {
		where = append(where, sq.ILike{"u.names": containsPattern(*filter.Names)})
	}
	if filter.Surnames != nil {
		where = append(where, sq.ILike{"u.surnames": containsPattern(*filter.Surnames)})
	}
	if filter.Email != nil {
		where = append(where, sq.ILike{"u.email": containsPattern(*filter.Email)})
	}
	if filter.RoleID != nil {
		where = append(where, sq.Eq{"u.role_id": *filter.RoleID})
	}
	if filter.Active != nil {
		where = append(where, sq.Eq{"u.active": *filter.Active})
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := clampLimit(filter.PageSize, 20, 100)

	listQuery, args, err := r.selectUsers().Where(where).
		OrderBy("u.surnames ASC", "u.names ASC", "u.id ASC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list users: %w", err)
	}

	users := make([]models.User, 0)
	ext := database.Ext(ctx, r.db)
	if err := sqlx.SelectContext(ctx, ext, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery, countArgs, err := qb.Select("COUNT(*)").From("users u").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count users: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, ext, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}
