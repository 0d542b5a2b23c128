package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/jobs"
	"github.com/noah-isme/pandebugger-api/pkg/storage"
)

func TestExportBooksCSV(t *testing.T) {
	f := newFixture(t)
	book := digitized(t, f, "Don Quijote")
	registerBook(t, f, "La Galatea")
	files := &fakeStorage{dir: t.TempDir(), cleanupErr: errors.New("permission denied")}
	svc := NewExportService(f.bookSvc, files, storage.NewSignedURLSigner("secret", time.Hour), ExportConfig{APIPrefix: "/api/v1"}, nil)

	result, err := svc.ExportBooks(context.Background(), models.BookFilter{}, "CSV")

	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatCSV, result.Format)
	assert.Equal(t, 2, result.Rows)
	assert.True(t, strings.HasPrefix(result.FileName, "books-"))
	assert.True(t, strings.HasSuffix(result.FileName, ".csv"))
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/"))
	assert.Equal(t, 1, files.cleanups)

	content := string(files.saved[result.FileName])
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,title,author,isbn,state,category,shelf,pdf", lines[0])
	assert.Contains(t, lines[1], "Don Quijote")
	assert.Contains(t, lines[1], *book.PDFPath)
	assert.Contains(t, lines[1], "A/12")

	token := strings.TrimPrefix(result.URL, "/api/v1/exports/")
	file, name, err := svc.Resolve(token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, result.FileName, name)
	assert.Equal(t, "text/csv", svc.ContentType(name))
}

func TestExportBooksPDF(t *testing.T) {
	f := newFixture(t)
	registerBook(t, f, "Don Quijote")
	files := &fakeStorage{}
	svc := NewExportService(f.bookSvc, files, storage.NewSignedURLSigner("secret", time.Hour), ExportConfig{}, nil)

	result, err := svc.ExportBooks(context.Background(), models.BookFilter{}, "pdf")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(files.saved[result.FileName]), "%PDF"))
	assert.Equal(t, "application/pdf", svc.ContentType(result.FileName))
}

func TestExportBooksRejectsInput(t *testing.T) {
	f := newFixture(t)
	svc := NewExportService(f.bookSvc, &fakeStorage{}, storage.NewSignedURLSigner("secret", time.Hour), ExportConfig{}, nil)

	_, err := svc.ExportBooks(context.Background(), models.BookFilter{}, "xlsx")
	assert.True(t, appErrors.IsKind(err, appErrors.ErrValidation))

	_, err = svc.ExportBooks(context.Background(), models.BookFilter{SortBy: "isbn13"}, "csv")
	assert.True(t, appErrors.IsKind(err, appErrors.ErrValidation))
}

func TestResolveRejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewExportService(f.bookSvc, &fakeStorage{dir: t.TempDir()}, signer, ExportConfig{}, nil)

	bookToken, _, err := signer.Generate(bookSubject(1), "books-x.csv")
	require.NoError(t, err)

	for _, token := range []string{"garbage", bookToken} {
		_, _, err := svc.Resolve(token)
		assert.True(t, appErrors.IsKind(err, appErrors.ErrForbidden), token)
	}

	other := storage.NewSignedURLSigner("other", time.Hour)
	forged, _, err := other.Generate(exportSubject, "books-x.csv")
	require.NoError(t, err)
	_, _, err = svc.Resolve(forged)
	assert.True(t, appErrors.IsKind(err, appErrors.ErrForbidden))
}

type recordingScheduler struct {
	jobs []jobs.Job
	err  error
}

func (s *recordingScheduler) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func TestExportSweepRunsThroughScheduler(t *testing.T) {
	f := newFixture(t)
	registerBook(t, f, "Don Quijote")
	files := &fakeStorage{}
	sched := &recordingScheduler{}
	svc := NewExportService(f.bookSvc, files, storage.NewSignedURLSigner("secret", time.Hour), ExportConfig{Sweeper: sched}, nil)

	_, err := svc.ExportBooks(context.Background(), models.BookFilter{}, "csv")

	require.NoError(t, err)
	require.Len(t, sched.jobs, 1)
	assert.Equal(t, ExportSweepJob, sched.jobs[0].Type)
	assert.Zero(t, files.cleanups)

	require.NoError(t, svc.HandleJob(context.Background(), sched.jobs[0]))
	assert.Equal(t, 1, files.cleanups)
	assert.Error(t, svc.HandleJob(context.Background(), jobs.Job{Type: "reports.generate"}))
}

func TestExportSweepFallsBackInline(t *testing.T) {
	f := newFixture(t)
	registerBook(t, f, "Don Quijote")
	files := &fakeStorage{}
	sched := &recordingScheduler{err: jobs.ErrQueueFull}
	svc := NewExportService(f.bookSvc, files, storage.NewSignedURLSigner("secret", time.Hour), ExportConfig{Sweeper: sched}, nil)

	_, err := svc.ExportBooks(context.Background(), models.BookFilter{}, "csv")

	require.NoError(t, err)
	assert.Equal(t, 1, files.cleanups)
}
