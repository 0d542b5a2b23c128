package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/pkg/database"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/validation"
)

const categoryListCacheKey = "categories:list"

type categoryRepository interface {
	List(ctx context.Context) ([]models.Category, error)
	FindByID(ctx context.Context, id int64) (*models.Category, error)
	NameExists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, category *models.Category) error
}

// CategoryService manages book categories.
type CategoryService struct {
	repo      categoryRepository
	audit     auditRecorder
	tx        transactor
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCategoryService constructs a CategoryService. cache may be nil.
func NewCategoryService(repo categoryRepository, audit auditRecorder, tx transactor, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CategoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &CategoryService{repo: repo, audit: audit, tx: tx, cache: cache, validator: validate, logger: logger}
}

// List returns every category ordered by name and whether it was served from cache.
func (s *CategoryService) List(ctx context.Context) ([]models.Category, bool, error) {
	return readThrough(ctx, s.cache, categoryListCacheKey, func(ctx context.Context) ([]models.Category, error) {
		categories, err := s.repo.List(ctx)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list categories")
		}
		if categories == nil {
			categories = []models.Category{}
		}
		return categories, nil
	})
}

// Get returns a category by id.
func (s *CategoryService) Get(ctx context.Context, id int64) (*models.Category, error) {
	category, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "category %d not found", id)
		}
		return nil, appErrors.Internal(err, "failed to load category")
	}
	return category, nil
}

// Create adds a category with a case-insensitively unique name.
func (s *CategoryService) Create(ctx context.Context, actorID int64, req models.CreateCategoryRequest) (*models.Category, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}
	category := &models.Category{Name: strings.TrimSpace(req.Name), Description: nonBlank(req.Description)}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.repo.NameExists(ctx, category.Name)
		if err != nil {
			return appErrors.Internal(err, "failed to check category name")
		}
		if exists {
			return appErrors.Clonef(appErrors.ErrConflict, "category %q already exists", category.Name)
		}
		if err := s.repo.Create(ctx, category); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Clonef(appErrors.ErrConflict, "category %q already exists", category.Name)
			}
			return appErrors.Internal(err, "failed to create category")
		}
		return s.audit.Record(ctx, actorID, catalog.ActionCreate, catalog.TargetCategory, category.ID)
	})
	if err != nil {
		return nil, err
	}

	_ = s.cache.Invalidate(ctx, categoryListCacheKey)
	return category, nil
}
