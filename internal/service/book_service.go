package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/lifecycle"
	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/internal/repository"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/storage"
	"github.com/noah-isme/pandebugger-api/pkg/validation"
)

const (
	dateLayout         = "2006-01-02"
	conditionGood      = "good"
	bookHistoryTaskCap = 500
)

type transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type bookRepository interface {
	Create(ctx context.Context, book *models.Book) error
	FindByID(ctx context.Context, id int64) (*models.Book, error)
	UpdateLifecycle(ctx context.Context, book *models.Book) error
	UpdateDetails(ctx context.Context, book *models.Book) error
	SetActive(ctx context.Context, book *models.Book) error
	Search(ctx context.Context, filter models.BookFilter) iter.Seq2[models.Book, error]
}

type taskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	FindByID(ctx context.Context, id int64) (*models.Task, error)
}

type categoryLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Category, error)
}

type bookHistoryReader interface {
	ByTarget(ctx context.Context, targetType string, targetID int64, limit int) ([]models.HistoryEntry, error)
}

type assetOpener interface {
	Open(name string) (*os.File, error)
}

// BookServiceOptions carries the optional collaborators of BookService.
type BookServiceOptions struct {
	Metrics *MetricsService
	// Signer issues download tokens for stores that cannot presign URLs.
	Signer *storage.SignedURLSigner
	// DownloadBaseURL prefixes locally served download links, e.g. "/api/v1".
	DownloadBaseURL string
}

// BookService drives books through the digitization lifecycle.
type BookService struct {
	books      bookRepository
	tasks      taskRepository
	categories categoryLookup
	audit      auditRecorder
	history    bookHistoryReader
	registry   *lifecycle.Registry
	tx         transactor
	assets     storage.AssetStore
	validator  *validator.Validate
	logger     *zap.Logger
	opts       BookServiceOptions
	now        func() time.Time
}

// NewBookService constructs a BookService.
func NewBookService(
	books bookRepository,
	tasks taskRepository,
	categories categoryLookup,
	audit auditRecorder,
	history bookHistoryReader,
	registry *lifecycle.Registry,
	tx transactor,
	assets storage.AssetStore,
	validate *validator.Validate,
	logger *zap.Logger,
	opts BookServiceOptions,
) *BookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &BookService{
		books:      books,
		tasks:      tasks,
		categories: categories,
		audit:      audit,
		history:    history,
		registry:   registry,
		tx:         tx,
		assets:     assets,
		validator:  validate,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// RegisterBook records a newly received book in the Registered state.
func (s *BookService) RegisterBook(ctx context.Context, actorID int64, req models.CreateBookRequest) (*models.Book, error) {
	book := &models.Book{}
	if err := s.applyDetails(book, req); err != nil {
		return nil, err
	}
	book.StateID = s.registry.MustID(lifecycle.Registered)
	book.StateName = string(lifecycle.Registered)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.books.Create(ctx, book); err != nil {
			return appErrors.Internal(err, "failed to register book")
		}
		return s.audit.Record(ctx, actorID, catalog.ActionCreate, catalog.TargetBook, book.ID)
	})
	if err != nil {
		return nil, err
	}

	s.opts.Metrics.RecordTransition("", string(lifecycle.Registered))
	s.logger.Info("book registered", zap.Int64("book_id", book.ID), zap.Int64("actor_id", actorID))
	return book, nil
}

// RecordPhysicalReview records the condition review of a Registered book and routes it to
// digitization or restoration.
func (s *BookService) RecordPhysicalReview(ctx context.Context, actorID, bookID int64, req models.PhysicalReviewRequest) (*models.Task, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}
	started, finished, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	next := lifecycle.UnderRestoration
	if req.Condition == conditionGood {
		next = lifecycle.UnderDigitization
	}

	_, task, err := s.applyLifecycle(ctx, actorID, bookID, req.ExpectedVersion, catalog.ActionUpdate,
		func(_ context.Context, _ *models.Book, current lifecycle.State) (lifecycleChange, error) {
			if err := s.registry.Require(current, lifecycle.Registered); err != nil {
				return lifecycleChange{}, err
			}
			return lifecycleChange{
				to: next,
				task: &models.Task{
					StartedOn:  started,
					FinishedOn: finished,
					Notes:      "Physical review: " + req.Condition,
				},
			}, nil
		})
	return task, err
}

// RecordRestoration records the completed restoration of a book and sends it to digitization.
func (s *BookService) RecordRestoration(ctx context.Context, actorID, bookID int64, req models.RestorationRequest) (*models.Task, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}
	started, finished, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	_, task, err := s.applyLifecycle(ctx, actorID, bookID, req.ExpectedVersion, catalog.ActionUpdate,
		func(_ context.Context, _ *models.Book, current lifecycle.State) (lifecycleChange, error) {
			if err := s.registry.Require(current, lifecycle.UnderRestoration); err != nil {
				return lifecycleChange{}, err
			}
			return lifecycleChange{
				to: lifecycle.UnderDigitization,
				task: &models.Task{
					StartedOn:  started,
					FinishedOn: finished,
					Notes:      "Restoration: " + strings.TrimSpace(req.ConditionNote),
				},
			}, nil
		})
	return task, err
}

// DigitizeBook attaches a PDF present in the asset store and marks the book Digitized.
func (s *BookService) DigitizeBook(ctx context.Context, actorID, bookID int64, req models.DigitizeRequest) (*models.Book, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.PDFFileName)
	if !storage.ValidName(name) {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "invalid PDF file name %q", req.PDFFileName)
	}

	book, _, err := s.applyLifecycle(ctx, actorID, bookID, req.ExpectedVersion, catalog.ActionCompleteTask,
		func(ctx context.Context, book *models.Book, current lifecycle.State) (lifecycleChange, error) {
			if err := s.registry.Require(current, lifecycle.UnderDigitization, lifecycle.Restored); err != nil {
				return lifecycleChange{}, err
			}
			exists, err := s.assets.Exists(ctx, name)
			if err != nil {
				return lifecycleChange{}, appErrors.Internal(err, "failed to check asset store")
			}
			if !exists {
				return lifecycleChange{}, appErrors.Clonef(appErrors.ErrNotFound,
					"PDF file %q was not found at %s", name, s.assets.Resolve(name))
			}
			book.PDFPath = &name
			return lifecycleChange{to: lifecycle.Digitized}, nil
		})
	return book, err
}

// ClassifyBook assigns a category. Classifying an already Classified book only changes the
// category.
func (s *BookService) ClassifyBook(ctx context.Context, actorID, bookID int64, req models.ClassifyRequest) (*models.Book, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}

	book, _, err := s.applyLifecycle(ctx, actorID, bookID, req.ExpectedVersion, catalog.ActionUpdate,
		func(ctx context.Context, book *models.Book, current lifecycle.State) (lifecycleChange, error) {
			category, err := s.categories.FindByID(ctx, req.CategoryID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return lifecycleChange{}, appErrors.Clonef(appErrors.ErrNotFound, "category %d not found", req.CategoryID)
				}
				return lifecycleChange{}, appErrors.Internal(err, "failed to load category")
			}
			if err := s.registry.Require(current, lifecycle.QualityApproved, lifecycle.Digitized, lifecycle.Classified); err != nil {
				return lifecycleChange{}, err
			}
			book.CategoryID = &category.ID
			book.CategoryName = &category.Name
			return lifecycleChange{to: lifecycle.Classified}, nil
		})
	return book, err
}

// ApproveQuality marks a Digitized book as QualityApproved.
func (s *BookService) ApproveQuality(ctx context.Context, actorID, bookID int64, expectedVersion *int64) (*models.Book, error) {
	book, _, err := s.applyLifecycle(ctx, actorID, bookID, expectedVersion, catalog.ActionQualityReview,
		func(_ context.Context, _ *models.Book, current lifecycle.State) (lifecycleChange, error) {
			if err := s.registry.Require(current, lifecycle.Digitized); err != nil {
				return lifecycleChange{}, err
			}
			return lifecycleChange{to: lifecycle.QualityApproved}, nil
		})
	return book, err
}

// UpdateBookDetails replaces the descriptive metadata of a book without touching its lifecycle.
func (s *BookService) UpdateBookDetails(ctx context.Context, actorID, bookID int64, req models.UpdateBookRequest) (*models.Book, error) {
	var updated *models.Book
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		book, _, err := s.load(ctx, bookID, req.ExpectedVersion)
		if err != nil {
			return err
		}
		if err := s.applyDetails(book, req.CreateBookRequest); err != nil {
			return err
		}
		if err := s.books.UpdateDetails(ctx, book); err != nil {
			return mapBookWriteError(err, "failed to update book")
		}
		if err := s.audit.Record(ctx, actorID, catalog.ActionUpdate, catalog.TargetBook, book.ID); err != nil {
			return err
		}
		updated = book
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeactivateBook soft-deletes a book. Deactivating an inactive book succeeds without changes.
func (s *BookService) DeactivateBook(ctx context.Context, actorID, bookID int64, expectedVersion *int64) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		book, err := s.find(ctx, bookID)
		if err != nil {
			return err
		}
		if !book.Active {
			return nil
		}
		if err := checkVersion(book, expectedVersion); err != nil {
			return err
		}
		book.Active = false
		if err := s.books.SetActive(ctx, book); err != nil {
			return mapBookWriteError(err, "failed to deactivate book")
		}
		return s.audit.Record(ctx, actorID, catalog.ActionDelete, catalog.TargetBook, book.ID)
	})
}

// GetBook returns a book by id, active or not.
func (s *BookService) GetBook(ctx context.Context, bookID int64) (*models.Book, error) {
	return s.find(ctx, bookID)
}

// ListStates returns the lifecycle states ordered for display.
func (s *BookService) ListStates() []models.LifecycleState {
	return s.registry.States()
}

// SearchBooks validates filter and returns a lazy sequence over the matching books. Each
// iteration re-runs the query.
func (s *BookService) SearchBooks(ctx context.Context, filter models.BookFilter) (iter.Seq2[models.Book, error], error) {
	if filter.CategoryID != nil && *filter.CategoryID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "category_id must be positive")
	}
	if filter.StateID != nil {
		if *filter.StateID <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "state_id must be positive")
		}
		if !s.registry.Contains(*filter.StateID) {
			return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown state_id %d", *filter.StateID)
		}
	}
	switch filter.SortBy {
	case "", "id", "title", "author", "registered_on":
	default:
		return nil, appErrors.Clonef(appErrors.ErrValidation, "cannot sort by %q", filter.SortBy)
	}
	filter.SortOrder = strings.ToLower(filter.SortOrder)
	switch filter.SortOrder {
	case "", "asc", "desc":
	default:
		return nil, appErrors.Clonef(appErrors.ErrValidation, "invalid sort order %q", filter.SortOrder)
	}
	filter.Title = nonBlank(filter.Title)
	filter.Author = nonBlank(filter.Author)
	filter.ISBN = nonBlank(filter.ISBN)

	books := s.books.Search(ctx, filter)
	return func(yield func(models.Book, error) bool) {
		for book, err := range books {
			if err != nil {
				yield(models.Book{}, appErrors.Internal(err, "failed to search books"))
				return
			}
			if !yield(book, nil) {
				return
			}
		}
	}, nil
}

// History returns a book with its tasks and audit trail.
func (s *BookService) History(ctx context.Context, bookID int64) (*models.BookHistory, error) {
	book, err := s.find(ctx, bookID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.List(ctx, models.TaskFilter{BookID: &book.ID, Limit: bookHistoryTaskCap})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load tasks")
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	audit, err := s.history.ByTarget(ctx, string(catalog.TargetBook), book.ID, maxHistoryLimit)
	if err != nil {
		return nil, err
	}
	return &models.BookHistory{Book: book, Tasks: tasks, Audit: audit}, nil
}

// DownloadLink returns a time limited URL to the digitized PDF of a book.
func (s *BookService) DownloadLink(ctx context.Context, bookID int64) (*models.DownloadLink, error) {
	book, err := s.find(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.PDFPath == nil || *book.PDFPath == "" {
		return nil, appErrors.Clonef(appErrors.ErrInvalidState, "book %d has no digitized PDF", book.ID)
	}

	ttl := 15 * time.Minute
	if s.opts.Signer != nil {
		ttl = s.opts.Signer.TTL()
	}

	if presigner, ok := s.assets.(storage.Presigner); ok {
		link, err := presigner.PresignGet(ctx, *book.PDFPath, ttl)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to presign download")
		}
		return &models.DownloadLink{URL: link, ExpiresAt: s.now().Add(ttl).UTC()}, nil
	}

	if s.opts.Signer == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "download links are not configured")
	}
	token, expiresAt, err := s.opts.Signer.Generate(bookSubject(book.ID), *book.PDFPath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign download")
	}
	link := fmt.Sprintf("%s/books/%d/pdf?token=%s",
		strings.TrimRight(s.opts.DownloadBaseURL, "/"), book.ID, url.QueryEscape(token))
	return &models.DownloadLink{URL: link, ExpiresAt: expiresAt}, nil
}

// OpenPDF validates a download token and opens the referenced file. The caller closes it.
func (s *BookService) OpenPDF(ctx context.Context, bookID int64, token string) (*os.File, error) {
	if s.opts.Signer == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "download links are not configured")
	}
	subject, relPath, _, err := s.opts.Signer.Parse(token, false)
	if err != nil || subject != bookSubject(bookID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	book, err := s.find(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.PDFPath == nil || *book.PDFPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	opener, ok := s.assets.(assetOpener)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "PDF downloads are served by the asset store")
	}
	file, err := opener.Open(relPath)
	if err != nil {
		return nil, appErrors.Clonef(appErrors.ErrNotFound, "PDF file %q is no longer available", relPath)
	}
	return file, nil
}

// lifecycleChange describes the outcome of one lifecycle step. A step whose target equals the
// current state leaves the state untouched.
type lifecycleChange struct {
	to   lifecycle.State
	task *models.Task
}

type lifecycleStep func(ctx context.Context, book *models.Book, current lifecycle.State) (lifecycleChange, error)

// applyLifecycle runs step inside one transaction together with the guarded book update, the
// optional task insert and one audit entry.
func (s *BookService) applyLifecycle(ctx context.Context, actorID, bookID int64, expectedVersion *int64, action catalog.Action, step lifecycleStep) (*models.Book, *models.Task, error) {
	var (
		book *models.Book
		task *models.Task
		from lifecycle.State
		to   lifecycle.State
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		book, from, err = s.load(ctx, bookID, expectedVersion)
		if err != nil {
			return err
		}

		change, err := step(ctx, book, from)
		if err != nil {
			return err
		}
		to = from
		if change.to != "" && change.to != from {
			stateID, err := s.registry.Transition(from, change.to)
			if err != nil {
				return err
			}
			book.StateID = stateID
			book.StateName = string(change.to)
			to = change.to
		}

		if err := s.books.UpdateLifecycle(ctx, book); err != nil {
			return mapBookWriteError(err, "failed to update book")
		}

		if change.task != nil {
			task = change.task
			task.BookID = book.ID
			task.UserID = actorID
			task.ResultingStateID = book.StateID
			task.ResultingStateName = book.StateName
			if err := s.tasks.Create(ctx, task); err != nil {
				return appErrors.Internal(err, "failed to record task")
			}
		}

		return s.audit.Record(ctx, actorID, action, catalog.TargetBook, book.ID)
	})
	if err != nil {
		return nil, nil, err
	}

	if to != from {
		s.opts.Metrics.RecordTransition(string(from), string(to))
		s.logger.Info("book state changed",
			zap.Int64("book_id", book.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int64("actor_id", actorID),
		)
	}
	return book, task, nil
}

// load fetches an active book for mutation and resolves its state.
func (s *BookService) load(ctx context.Context, bookID int64, expectedVersion *int64) (*models.Book, lifecycle.State, error) {
	book, err := s.find(ctx, bookID)
	if err != nil {
		return nil, "", err
	}
	if !book.Active {
		return nil, "", appErrors.Clonef(appErrors.ErrInvalidState, "book %d is inactive", book.ID)
	}
	if err := checkVersion(book, expectedVersion); err != nil {
		return nil, "", err
	}
	state, ok := s.registry.ByID(book.StateID)
	if !ok {
		return nil, "", appErrors.Clonef(appErrors.ErrConfiguration, "book %d has unknown state id %d", book.ID, book.StateID)
	}
	book.StateName = string(state)
	return book, state, nil
}

func (s *BookService) find(ctx context.Context, bookID int64) (*models.Book, error) {
	if bookID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "book id must be positive")
	}
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "book %d not found", bookID)
		}
		return nil, appErrors.Internal(err, "failed to load book")
	}
	return book, nil
}

func (s *BookService) applyDetails(book *models.Book, req models.CreateBookRequest) error {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return err
	}
	registeredOn, err := time.Parse(dateLayout, req.RegisteredOn)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "registered_on must be a date in YYYY-MM-DD format")
	}
	book.Title = strings.TrimSpace(req.Title)
	book.Author = strings.TrimSpace(req.Author)
	book.RegisteredOn = registeredOn
	book.PageCount = req.PageCount
	book.ShelfLocation = strings.TrimSpace(req.ShelfLocation)
	book.ShelfSlot = strings.TrimSpace(req.ShelfSlot)
	book.ISBN = strings.TrimSpace(req.ISBN)
	return nil
}

func checkVersion(book *models.Book, expected *int64) error {
	if expected != nil && *expected != book.Version {
		return appErrors.Clone(appErrors.ErrConflict, "book was modified concurrently")
	}
	return nil
}

func mapBookWriteError(err error, message string) error {
	if errors.Is(err, repository.ErrStaleVersion) {
		return appErrors.Clone(appErrors.ErrConflict, "book was modified concurrently")
	}
	return appErrors.Internal(err, message)
}

func parsePeriod(start, end string) (time.Time, time.Time, error) {
	started, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "start_date must be a date in YYYY-MM-DD format")
	}
	finished, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end_date must be a date in YYYY-MM-DD format")
	}
	if finished.Before(started) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	return started, finished, nil
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func bookSubject(id int64) string {
	return fmt.Sprintf("book-%d", id)
}
