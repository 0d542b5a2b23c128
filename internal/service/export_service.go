package service

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/export"
	"github.com/noah-isme/pandebugger-api/pkg/jobs"
	"github.com/noah-isme/pandebugger-api/pkg/storage"
)

const exportSubject = "catalog"

// ExportSweepJob removes exports older than the retention window.
const ExportSweepJob = "exports.sweep"

var bookExportHeaders = []string{"id", "title", "author", "isbn", "state", "category", "shelf", "pdf"}

type bookSearcher interface {
	SearchBooks(ctx context.Context, filter models.BookFilter) (iter.Seq2[models.Book, error], error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type jobScheduler interface {
	Enqueue(job jobs.Job) error
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	RetainFor time.Duration
	// Sweeper runs stale export removal in the background. Nil sweeps inline.
	Sweeper jobScheduler
}

// ExportService renders book searches into downloadable files.
type ExportService struct {
	books     bookSearcher
	storage   fileStorage
	renderers map[string]export.Renderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService with the CSV and PDF renderers.
func NewExportService(books bookSearcher, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 24 * time.Hour
	}
	return &ExportService{
		books:   books,
		storage: files,
		renderers: map[string]export.Renderer{
			models.ExportFormatCSV: export.NewCSVExporter(),
			models.ExportFormatPDF: export.NewPDFExporter(),
		},
		signer: signer,
		logger: logger,
		cfg:    cfg,
	}
}

// ExportBooks renders the books matching filter and returns a signed download URL.
func (s *ExportService) ExportBooks(ctx context.Context, filter models.BookFilter, format string) (*models.ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = models.ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unsupported export format %q", format)
	}

	books, err := s.books.SearchBooks(ctx, filter)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{Title: "Book catalog", Headers: bookExportHeaders}
	for book, err := range books {
		if err != nil {
			return nil, err
		}
		dataset.Rows = append(dataset.Rows, bookExportRow(book))
	}

	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}

	s.scheduleSweep()

	name := fmt.Sprintf("books-%s.%s", uuid.NewString(), renderer.Extension())
	relPath, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(exportSubject, relPath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &models.ExportResult{
		FileName:  relPath,
		Format:    format,
		Rows:      len(dataset.Rows),
		URL:       fmt.Sprintf("%s/exports/%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// HandleJob runs a queued export job.
func (s *ExportService) HandleJob(_ context.Context, job jobs.Job) error {
	if job.Type != ExportSweepJob {
		return fmt.Errorf("unknown export job type %q", job.Type)
	}
	return s.sweep()
}

func (s *ExportService) scheduleSweep() {
	if s.cfg.Sweeper != nil {
		err := s.cfg.Sweeper.Enqueue(jobs.Job{ID: uuid.NewString(), Type: ExportSweepJob, Key: ExportSweepJob})
		if err == nil {
			return
		}
		s.logger.Warn("export sweep not queued, sweeping inline", zap.Error(err))
	}
	if err := s.sweep(); err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
	}
}

func (s *ExportService) sweep() error {
	removed, err := s.storage.CleanupOlderThan(s.cfg.RetainFor)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		s.logger.Debug("removed stale exports", zap.Int("count", len(removed)))
	}
	return nil
}

// Resolve validates a download token and opens the export it points to. The caller closes
// the file.
func (s *ExportService) Resolve(token string) (*os.File, string, error) {
	subject, relPath, _, err := s.signer.Parse(token, false)
	if err != nil || subject != exportSubject {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired export token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clonef(appErrors.ErrNotFound, "export %s is no longer available", relPath)
	}
	return file, relPath, nil
}

// ContentType returns the MIME type for an export file name.
func (s *ExportService) ContentType(name string) string {
	for _, r := range s.renderers {
		if strings.HasSuffix(name, "."+r.Extension()) {
			return r.ContentType()
		}
	}
	return "application/octet-stream"
}

func bookExportRow(book models.Book) map[string]string {
	row := map[string]string{
		"id":     strconv.FormatInt(book.ID, 10),
		"title":  book.Title,
		"author": book.Author,
		"isbn":   book.ISBN,
		"state":  book.StateName,
		"shelf":  book.ShelfLocation + "/" + book.ShelfSlot,
	}
	if book.CategoryName != nil {
		row["category"] = *book.CategoryName
	}
	if book.PDFPath != nil {
		row["pdf"] = *book.PDFPath
	}
	return row
}
