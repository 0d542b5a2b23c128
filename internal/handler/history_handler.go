package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/response"
)

type historyService interface {
	ByTarget(ctx context.Context, targetType string, targetID int64, limit int) ([]models.HistoryEntry, error)
	ByUser(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error)
	Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Search(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, *models.Pagination, error)
	Get(ctx context.Context, id int64) (*models.HistoryEntry, error)
	Actions() []models.LookupEntry
	TargetTypes() []models.LookupEntry
}

// HistoryHandler exposes the audit trail.
type HistoryHandler struct {
	service historyService
}

// NewHistoryHandler constructs the handler.
func NewHistoryHandler(svc historyService) *HistoryHandler {
	return &HistoryHandler{service: svc}
}

// Search godoc
// @Summary Search the audit trail
// @Tags History
// @Security BearerAuth
// @Produce json
// @Param user_id query int false "User who acted"
// @Param action_id query int false "Action"
// @Param target_type_id query int false "Target type"
// @Param target_id query int false "Target entity"
// @Param from query string false "Recorded on or after (YYYY-MM-DD)"
// @Param to query string false "Recorded on or before (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (default 50, max 200); limit is accepted as an alias"
// @Param offset query int false "Rows to skip; overrides page"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /history [get]
func (h *HistoryHandler) Search(c *gin.Context) {
	filter, err := historyFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.service.Search(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get one audit entry
// @Tags History
// @Security BearerAuth
// @Produce json
// @Param id path int true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /history/entries/{id} [get]
func (h *HistoryHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	entry, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// Actions godoc
// @Summary List audit actions
// @Tags History
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /actions [get]
func (h *HistoryHandler) Actions(c *gin.Context) {
	response.OK(c, h.service.Actions())
}

// TargetTypes godoc
// @Summary List audit target types
// @Tags History
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /target-types [get]
func (h *HistoryHandler) TargetTypes(c *gin.Context) {
	response.OK(c, h.service.TargetTypes())
}

// Recent godoc
// @Summary Recent audit entries
// @Tags History
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Maximum entries (default 50, max 200)"
// @Success 200 {object} response.Envelope
// @Router /history/recent [get]
func (h *HistoryHandler) Recent(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.service.Recent(c.Request.Context(), limit))
}

// ByUser godoc
// @Summary Audit entries recorded by a user
// @Tags History
// @Security BearerAuth
// @Produce json
// @Param id path int true "User ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /history/users/{id} [get]
func (h *HistoryHandler) ByUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.service.ByUser(c.Request.Context(), id, limit))
}

// ByTarget godoc
// @Summary Audit entries for an entity
// @Tags History
// @Security BearerAuth
// @Produce json
// @Param targetType path string true "user, book, task, category or system"
// @Param id path int true "Entity ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /history/{targetType}/{id} [get]
func (h *HistoryHandler) ByTarget(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.service.ByTarget(c.Request.Context(), c.Param("targetType"), id, limit))
}

func (h *HistoryHandler) respond(c *gin.Context) func([]models.HistoryEntry, error) {
	return func(entries []models.HistoryEntry, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, entries)
	}
}

func historyFilter(c *gin.Context) (models.HistoryFilter, error) {
	var (
		filter models.HistoryFilter
		err    error
	)
	for name, dst := range map[string]**int64{
		"user_id":        &filter.UserID,
		"action_id":      &filter.ActionID,
		"target_type_id": &filter.TargetTypeID,
		"target_id":      &filter.TargetID,
	} {
		if *dst, err = queryInt64(c, name); err != nil {
			return filter, err
		}
	}
	if filter.From, err = queryDate(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryDate(c, "to"); err != nil {
		return filter, err
	}
	if filter.Page, err = queryInt(c, "page"); err != nil {
		return filter, err
	}
	size := "page_size"
	if strings.TrimSpace(c.Query(size)) == "" {
		size = "limit"
	}
	if filter.PageSize, err = queryInt(c, size); err != nil {
		return filter, err
	}
	if strings.TrimSpace(c.Query("offset")) != "" {
		offset, err := queryInt(c, "offset")
		if err != nil {
			return filter, err
		}
		filter.Offset = &offset
	}
	return filter, nil
}
