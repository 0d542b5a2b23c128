package handler

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/response"
)

type exportService interface {
	ExportBooks(ctx context.Context, filter models.BookFilter, format string) (*models.ExportResult, error)
	Resolve(token string) (*os.File, string, error)
	ContentType(name string) string
}

// ExportHandler renders catalog exports and serves them through signed links.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Create godoc
// @Summary Export the book catalog
// @Description Renders the books matching the search filters as CSV or PDF and returns a signed link.
// @Tags Exports
// @Security BearerAuth
// @Produce json
// @Param format query string false "csv (default) or pdf"
// @Param title query string false "Title contains"
// @Param author query string false "Author contains"
// @Param category_id query int false "Category"
// @Param state_id query int false "Lifecycle state"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /books/export [post]
func (h *ExportHandler) Create(c *gin.Context) {
	filter, err := bookFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.ExportBooks(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a rendered export
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, name, err := h.service.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	serveFile(c, file, h.service.ContentType(name), "attachment")
}
