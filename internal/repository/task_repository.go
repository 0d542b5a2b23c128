package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

// TaskRepository stores review and restoration tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts task and fills its id and creation time.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	const query = `INSERT INTO tasks (book_id, user_id, started_on, finished_on, resulting_state_id, notes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`
	row := database.Ext(ctx, r.db).QueryRowxContext(ctx, query,
		task.BookID, task.UserID, task.StartedOn, task.FinishedOn, task.ResultingStateID, task.Notes)
	if err := row.Scan(&task.ID, &task.CreatedAt); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) selectTasks() sq.SelectBuilder {
	return qb.Select(
		"t.id", "t.book_id", "t.user_id", "CONCAT(u.names, ' ', u.surnames) AS user_name",
		"t.started_on", "t.finished_on", "t.resulting_state_id", "s.name AS resulting_state_name",
		"t.notes", "t.created_at",
	).
		From("tasks t").
		Join("users u ON u.id = t.user_id").
		Join("lifecycle_states s ON s.id = t.resulting_state_id")
}

// FindByID returns one task. A missing task yields an error wrapping sql.ErrNoRows.
func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	query, args, err := r.selectTasks().Where(sq.Eq{"t.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find task: %w", err)
	}
	var task models.Task
	if err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &task, query, args...); err != nil {
		return nil, fmt.Errorf("find task %d: %w", id, err)
	}
	return &task, nil
}

// List returns tasks matching filter, newest first.
func (r *TaskRepository) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	q := r.selectTasks()

	if filter.BookID != nil {
		q = q.Where(sq.Eq{"t.book_id": *filter.BookID})
	}
	if filter.UserID != nil {
		q = q.Where(sq.Eq{"t.user_id": *filter.UserID})
	}
	if filter.ResultingStateID != nil {
		q = q.Where(sq.Eq{"t.resulting_state_id": *filter.ResultingStateID})
	}
	if filter.From != nil {
		q = q.Where(sq.GtOrEq{"t.started_on": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(sq.LtOrEq{"t.finished_on": *filter.To})
	}

	query, args, err := q.OrderBy("t.created_at DESC", "t.id DESC").
		Limit(uint64(clampLimit(filter.Limit, 100, 500))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks: %w", err)
	}

	tasks := make([]models.Task, 0)
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}
