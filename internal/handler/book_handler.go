package handler

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/response"
)

type bookService interface {
	RegisterBook(ctx context.Context, actorID int64, req models.CreateBookRequest) (*models.Book, error)
	RecordPhysicalReview(ctx context.Context, actorID, bookID int64, req models.PhysicalReviewRequest) (*models.Task, error)
	RecordRestoration(ctx context.Context, actorID, bookID int64, req models.RestorationRequest) (*models.Task, error)
	DigitizeBook(ctx context.Context, actorID, bookID int64, req models.DigitizeRequest) (*models.Book, error)
	ClassifyBook(ctx context.Context, actorID, bookID int64, req models.ClassifyRequest) (*models.Book, error)
	ApproveQuality(ctx context.Context, actorID, bookID int64, expectedVersion *int64) (*models.Book, error)
	UpdateBookDetails(ctx context.Context, actorID, bookID int64, req models.UpdateBookRequest) (*models.Book, error)
	DeactivateBook(ctx context.Context, actorID, bookID int64, expectedVersion *int64) error
	GetBook(ctx context.Context, bookID int64) (*models.Book, error)
	ListStates() []models.LifecycleState
	SearchBooks(ctx context.Context, filter models.BookFilter) (iter.Seq2[models.Book, error], error)
	History(ctx context.Context, bookID int64) (*models.BookHistory, error)
	DownloadLink(ctx context.Context, bookID int64) (*models.DownloadLink, error)
	OpenPDF(ctx context.Context, bookID int64, token string) (*os.File, error)
}

// BookHandler exposes the book catalog and its digitization lifecycle.
type BookHandler struct {
	service bookService
}

// NewBookHandler constructs the handler.
func NewBookHandler(svc bookService) *BookHandler {
	return &BookHandler{service: svc}
}

// List godoc
// @Summary Search books
// @Tags Books
// @Security BearerAuth
// @Produce json
// @Param title query string false "Title contains"
// @Param author query string false "Author contains"
// @Param isbn query string false "ISBN"
// @Param category_id query int false "Category"
// @Param state_id query int false "Lifecycle state"
// @Param include_inactive query bool false "Include deactivated books"
// @Param sort_by query string false "id, title, author or registered_on"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /books [get]
func (h *BookHandler) List(c *gin.Context) {
	filter, err := bookFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	seq, err := h.service.SearchBooks(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	books := make([]models.Book, 0)
	for book, err := range seq {
		if err != nil {
			response.Error(c, err)
			return
		}
		books = append(books, book)
	}
	response.JSON(c, http.StatusOK, books, nil, map[string]interface{}{"count": len(books)})
}

// Create godoc
// @Summary Register a book
// @Tags Books
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.CreateBookRequest true "Book payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /books [post]
func (h *BookHandler) Create(c *gin.Context) {
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid book payload"))
		return
	}
	book, err := h.service.RegisterBook(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, book.Version)
	response.Created(c, book)
}

// Get godoc
// @Summary Get book
// @Tags Books
// @Security BearerAuth
// @Produce json
// @Param id path int true "Book ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /books/{id} [get]
func (h *BookHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	book, err := h.service.GetBook(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, book.Version)
	response.OK(c, book)
}

// Update godoc
// @Summary Update book details
// @Tags Books
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Param payload body models.CreateBookRequest true "Book payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id} [put]
func (h *BookHandler) Update(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	var req models.UpdateBookRequest
	if err := c.ShouldBindJSON(&req.CreateBookRequest); err != nil {
		response.Error(c, invalidPayload(err, "invalid book payload"))
		return
	}
	req.ExpectedVersion = version
	book, err := h.service.UpdateBookDetails(c.Request.Context(), actor, id, req)
	h.respondBook(c, book, err)
}

// Delete godoc
// @Summary Deactivate book
// @Tags Books
// @Security BearerAuth
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /books/{id} [delete]
func (h *BookHandler) Delete(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	if err := h.service.DeactivateBook(c.Request.Context(), actor, id, version); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Review godoc
// @Summary Record physical review
// @Description Moves a registered book to Digitizing or InRestoration depending on its condition.
// @Tags Books
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Param payload body models.PhysicalReviewRequest true "Review payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id}/review [post]
func (h *BookHandler) Review(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	var req models.PhysicalReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid review payload"))
		return
	}
	req.ExpectedVersion = version
	task, err := h.service.RecordPhysicalReview(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Restoration godoc
// @Summary Record restoration
// @Tags Books
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Param payload body models.RestorationRequest true "Restoration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id}/restoration [post]
func (h *BookHandler) Restoration(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	var req models.RestorationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid restoration payload"))
		return
	}
	req.ExpectedVersion = version
	task, err := h.service.RecordRestoration(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Digitize godoc
// @Summary Attach digitized PDF
// @Tags Books
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Param payload body models.DigitizeRequest true "Digitize payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id}/digitize [post]
func (h *BookHandler) Digitize(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	var req models.DigitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid digitize payload"))
		return
	}
	req.ExpectedVersion = version
	book, err := h.service.DigitizeBook(c.Request.Context(), actor, id, req)
	h.respondBook(c, book, err)
}

// Classify godoc
// @Summary Classify book
// @Tags Books
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Param payload body models.ClassifyRequest true "Classify payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id}/classify [post]
func (h *BookHandler) Classify(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	var req models.ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid classify payload"))
		return
	}
	req.ExpectedVersion = version
	book, err := h.service.ClassifyBook(c.Request.Context(), actor, id, req)
	h.respondBook(c, book, err)
}

// ApproveQuality godoc
// @Summary Approve digitization quality
// @Tags Books
// @Security BearerAuth
// @Produce json
// @Param id path int true "Book ID"
// @Param If-Match header string false "Expected book version"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id}/quality-approval [post]
func (h *BookHandler) ApproveQuality(c *gin.Context) {
	actor, id, version, ok := h.mutationContext(c)
	if !ok {
		return
	}
	book, err := h.service.ApproveQuality(c.Request.Context(), actor, id, version)
	h.respondBook(c, book, err)
}

// History godoc
// @Summary Book history
// @Description Returns the book with its tasks and audit trail.
// @Tags Books
// @Security BearerAuth
// @Produce json
// @Param id path int true "Book ID"
// @Success 200 {object} response.Envelope
// @Router /books/{id}/history [get]
func (h *BookHandler) History(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	history, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, history)
}

// DownloadLink godoc
// @Summary Signed link to the digitized PDF
// @Tags Books
// @Security BearerAuth
// @Produce json
// @Param id path int true "Book ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /books/{id}/download-link [get]
func (h *BookHandler) DownloadLink(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.service.DownloadLink(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, link)
}

// PDF godoc
// @Summary Download digitized PDF via signed token
// @Tags Books
// @Produce application/pdf
// @Param id path int true "Book ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /books/{id}/pdf [get]
func (h *BookHandler) PDF(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, err := h.service.OpenPDF(c.Request.Context(), id, token)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveFile(c, file, "application/pdf", "inline")
}

// States godoc
// @Summary List lifecycle states
// @Tags Books
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /states [get]
func (h *BookHandler) States(c *gin.Context) {
	response.OK(c, h.service.ListStates())
}

func (h *BookHandler) mutationContext(c *gin.Context) (int64, int64, *int64, bool) {
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return 0, 0, nil, false
	}
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return 0, 0, nil, false
	}
	version, err := expectedVersion(c)
	if err != nil {
		response.Error(c, err)
		return 0, 0, nil, false
	}
	return actor, id, version, true
}

func (h *BookHandler) respondBook(c *gin.Context, book *models.Book, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, book.Version)
	response.OK(c, book)
}

func bookFilterFromQuery(c *gin.Context) (models.BookFilter, error) {
	filter := models.BookFilter{
		Title:     queryString(c, "title"),
		Author:    queryString(c, "author"),
		ISBN:      queryString(c, "isbn"),
		SortBy:    strings.TrimSpace(c.Query("sort_by")),
		SortOrder: strings.TrimSpace(c.Query("sort_order")),
	}
	var err error
	if filter.CategoryID, err = queryInt64(c, "category_id"); err != nil {
		return filter, err
	}
	if filter.StateID, err = queryInt64(c, "state_id"); err != nil {
		return filter, err
	}
	if raw := c.Query("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "include_inactive must be a boolean")
		}
		filter.IncludeInactive = v
	}
	return filter, nil
}

// serveFile streams an opened file and closes it.
func serveFile(c *gin.Context, file *os.File, contentType, disposition string) {
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to stat file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filepath.Base(file.Name())))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
