package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/response"
)

type taskService interface {
	List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Get(ctx context.Context, id int64) (*models.Task, error)
}

// TaskHandler reads review and restoration tasks.
type TaskHandler struct {
	service taskService
}

// NewTaskHandler constructs the handler.
func NewTaskHandler(svc taskService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// List godoc
// @Summary List tasks
// @Tags Tasks
// @Security BearerAuth
// @Produce json
// @Param book_id query int false "Book"
// @Param user_id query int false "User who performed the task"
// @Param state_id query int false "Resulting state"
// @Param from query string false "Finished on or after (YYYY-MM-DD)"
// @Param to query string false "Finished on or before (YYYY-MM-DD)"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	var (
		filter models.TaskFilter
		err    error
	)
	if filter.BookID, err = queryInt64(c, "book_id"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.UserID, err = queryInt64(c, "user_id"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.ResultingStateID, err = queryInt64(c, "state_id"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.From, err = queryDate(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = queryDate(c, "to"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		response.Error(c, err)
		return
	}

	tasks, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tasks)
}

// Get godoc
// @Summary Get task
// @Tags Tasks
// @Security BearerAuth
// @Produce json
// @Param id path int true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tasks/{id} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	task, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, task)
}

func queryDate(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "%s must be a date (YYYY-MM-DD)", name)
	}
	return &t, nil
}
