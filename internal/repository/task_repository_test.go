package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pandebugger-api/internal/models"
)

func TestCreateTask(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks (book_id, user_id, started_on, finished_on, resulting_state_id, notes)")).
		WithArgs(int64(7), int64(2), start, end, int64(5), "Physical review: good").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(31), time.Now()))

	task := &models.Task{BookID: 7, UserID: 2, StartedOn: start, FinishedOn: end, ResultingStateID: 5, Notes: "Physical review: good"}
	require.NoError(t, repo.Create(context.Background(), task))
	assert.Equal(t, int64(31), task.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasksFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "book_id", "user_id", "user_name", "started_on", "finished_on", "resulting_state_id", "resulting_state_name", "notes", "created_at"}).
		AddRow(int64(31), int64(7), int64(2), "Ana Pérez", now, now, int64(5), "UnderDigitization", "Physical review: good", now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.book_id = $1 AND t.started_on >= $2 ORDER BY t.created_at DESC, t.id DESC LIMIT 100")).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(rows)

	bookID := int64(7)
	from := now.AddDate(0, -1, 0)
	tasks, err := repo.List(context.Background(), models.TaskFilter{BookID: &bookID, From: &from})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "UnderDigitization", tasks[0].ResultingStateName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindTaskByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTaskRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("JOIN lifecycle_states s ON s.id = t.resulting_state_id WHERE t.id = $1")).
		WithArgs(int64(31)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "user_id", "user_name", "started_on", "finished_on", "resulting_state_id", "resulting_state_name", "notes", "created_at"}).
			AddRow(int64(31), int64(7), int64(2), "Ana Pérez", now, now, int64(5), "UnderDigitization", "Physical review: good", now))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.id = $1")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	task, err := repo.FindByID(context.Background(), 31)
	require.NoError(t, err)
	assert.Equal(t, "Ana Pérez", task.UserName)

	_, err = repo.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
