package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

// TaskService lists the review and restoration tasks performed on books.
type TaskService struct {
	repo taskRepository
}

// NewTaskService constructs a TaskService.
func NewTaskService(repo taskRepository) *TaskService {
	return &TaskService{repo: repo}
}

// List returns tasks matching filter, newest first.
func (s *TaskService) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	for name, id := range map[string]*int64{"book_id": filter.BookID, "user_id": filter.UserID, "resulting_state_id": filter.ResultingStateID} {
		if id != nil && *id <= 0 {
			return nil, appErrors.Clonef(appErrors.ErrValidation, "%s must be positive", name)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}

	tasks, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list tasks")
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// Get returns one task.
func (s *TaskService) Get(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "task %d not found", id)
		}
		return nil, appErrors.Internal(err, "failed to load task")
	}
	return task, nil
}
