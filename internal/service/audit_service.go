package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/internal/repository"
	"github.com/noah-isme/pandebugger-api/pkg/database"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type auditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, filter repository.AuditFilter) ([]models.HistoryEntry, error)
	Search(ctx context.Context, filter repository.AuditFilter) ([]models.HistoryEntry, int, error)
	FindByID(ctx context.Context, id int64) (*models.HistoryEntry, error)
}

// auditRecorder appends one audit entry inside the caller's transaction.
type auditRecorder interface {
	Record(ctx context.Context, actorID int64, action catalog.Action, target catalog.TargetType, targetID int64) error
}

// AuditWriter resolves audit names through the catalog and appends entries.
type AuditWriter struct {
	repo    auditRepository
	catalog *catalog.Catalog
	metrics *MetricsService
}

// NewAuditWriter constructs an AuditWriter. metrics may be nil.
func NewAuditWriter(repo auditRepository, cat *catalog.Catalog, metrics *MetricsService) *AuditWriter {
	return &AuditWriter{repo: repo, catalog: cat, metrics: metrics}
}

// Record writes an audit entry through the transaction carried by ctx. Any failure is returned
// so the enclosing transaction rolls back. The audit counter moves only once the entry commits.
func (w *AuditWriter) Record(ctx context.Context, actorID int64, action catalog.Action, target catalog.TargetType, targetID int64) error {
	actionID, err := w.catalog.ActionID(action)
	if err != nil {
		return err
	}
	targetTypeID, err := w.catalog.TargetTypeID(target)
	if err != nil {
		return err
	}

	entry := &models.AuditEntry{
		UserID:       actorID,
		ActionID:     actionID,
		TargetTypeID: targetTypeID,
		TargetID:     targetID,
	}
	if err := w.repo.Create(ctx, entry); err != nil {
		return appErrors.Internal(err, "failed to write audit entry")
	}
	database.AfterCommit(ctx, func() { w.metrics.RecordAudit(string(action)) })
	return nil
}

// HistoryService reads the audit trail.
type HistoryService struct {
	repo    auditRepository
	catalog *catalog.Catalog
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(repo auditRepository, cat *catalog.Catalog) *HistoryService {
	return &HistoryService{repo: repo, catalog: cat}
}

// ByTarget lists the entries recorded against one entity.
func (s *HistoryService) ByTarget(ctx context.Context, targetType string, targetID int64, limit int) ([]models.HistoryEntry, error) {
	t, ok := s.catalog.HasTargetType(targetType)
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown target type %q", targetType)
	}
	if targetID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target id must be positive")
	}
	typeID, err := s.catalog.TargetTypeID(t)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, repository.AuditFilter{TargetTypeID: &typeID, TargetID: &targetID, Limit: historyLimit(limit)})
}

// ByUser lists the entries recorded by one user.
func (s *HistoryService) ByUser(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error) {
	if userID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user id must be positive")
	}
	return s.list(ctx, repository.AuditFilter{UserID: &userID, Limit: historyLimit(limit)})
}

// Recent lists the newest entries across all targets.
func (s *HistoryService) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	return s.list(ctx, repository.AuditFilter{Limit: historyLimit(limit)})
}

// Search pages through the audit trail. Page size defaults to 50 and is capped at 200; an
// explicit offset overrides the page number.
func (s *HistoryService) Search(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, *models.Pagination, error) {
	for name, id := range map[string]*int64{
		"user_id": filter.UserID, "action_id": filter.ActionID,
		"target_type_id": filter.TargetTypeID, "target_id": filter.TargetID,
	} {
		if id != nil && *id <= 0 {
			return nil, nil, appErrors.Clonef(appErrors.ErrValidation, "%s must be positive", name)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}

	pageSize := historyLimit(filter.PageSize)
	offset := 0
	switch {
	case filter.Offset != nil:
		if *filter.Offset < 0 {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "offset must not be negative")
		}
		offset = *filter.Offset
	case filter.Page > 1:
		offset = (filter.Page - 1) * pageSize
	}

	query := repository.AuditFilter{
		UserID:       filter.UserID,
		ActionID:     filter.ActionID,
		TargetTypeID: filter.TargetTypeID,
		TargetID:     filter.TargetID,
		From:         filter.From,
		Limit:        pageSize,
		Offset:       offset,
	}
	if filter.To != nil {
		before := filter.To.AddDate(0, 0, 1)
		query.Before = &before
	}

	entries, total, err := s.repo.Search(ctx, query)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to search history")
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, &models.Pagination{Page: offset/pageSize + 1, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one audit entry.
func (s *HistoryService) Get(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "history entry %d not found", id)
		}
		return nil, appErrors.Internal(err, "failed to load history entry")
	}
	return entry, nil
}

// Actions lists the audit actions known to the store.
func (s *HistoryService) Actions() []models.LookupEntry {
	return s.catalog.Actions()
}

// TargetTypes lists the audit target types known to the store.
func (s *HistoryService) TargetTypes() []models.LookupEntry {
	return s.catalog.TargetTypes()
}

func (s *HistoryService) list(ctx context.Context, filter repository.AuditFilter) ([]models.HistoryEntry, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load history")
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
