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

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// UserService manages the user directory.
type UserService struct {
	repo      userRepository
	catalog   *catalog.Catalog
	audit     auditRecorder
	tx        transactor
	hasher    PasswordHasher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepository, cat *catalog.Catalog, audit auditRecorder, tx transactor, hasher PasswordHasher, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &UserService{repo: repo, catalog: cat, audit: audit, tx: tx, hasher: hasher, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.RoleID != nil {
		if _, ok := s.catalog.Role(*filter.RoleID); !ok {
			return nil, nil, appErrors.Clonef(appErrors.ErrValidation, "unknown role_id %d", *filter.RoleID)
		}
	}
	filter.Names = nonBlank(filter.Names)
	filter.Surnames = nonBlank(filter.Surnames)
	filter.Email = nonBlank(filter.Email)

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	if users == nil {
		users = []models.User{}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "user %d not found", id)
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// ListRoles returns the roles users can be assigned.
func (s *UserService) ListRoles() []models.Role {
	return s.catalog.Roles()
}

// Create adds a new user. An actorID of zero attributes the audit entry to the new user itself.
func (s *UserService) Create(ctx context.Context, actorID int64, req models.CreateUserRequest) (*models.User, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}
	role, ok := s.catalog.Role(req.RoleID)
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown role_id %d", req.RoleID)
	}

	user := &models.User{
		Names:    strings.TrimSpace(req.Names),
		Surnames: strings.TrimSpace(req.Surnames),
		Email:    normalizeEmail(req.Email),
		RoleID:   role.ID,
		RoleName: role.Name,
		Active:   true,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureEmailFree(ctx, user.Email, 0); err != nil {
			return err
		}
		hash, err := s.hasher.Hash(req.Password)
		if err != nil {
			return appErrors.Internal(err, "failed to hash password")
		}
		user.PasswordHash = hash
		if err := s.repo.Create(ctx, user); err != nil {
			if database.IsUniqueViolation(err) {
				return emailConflict(user.Email)
			}
			return appErrors.Internal(err, "failed to create user")
		}
		actor := actorID
		if actor == 0 {
			actor = user.ID
		}
		return s.audit.Record(ctx, actor, catalog.ActionCreate, catalog.TargetUser, user.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("role", user.RoleName))
	return user, nil
}

// Update replaces the profile data of a user.
func (s *UserService) Update(ctx context.Context, actorID, id int64, req models.UpdateUserRequest) (*models.User, error) {
	if err := validation.Error(s.validator.Struct(req)); err != nil {
		return nil, err
	}
	role, ok := s.catalog.Role(req.RoleID)
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown role_id %d", req.RoleID)
	}

	var user *models.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.Get(ctx, id)
		if err != nil {
			return err
		}
		email := normalizeEmail(req.Email)
		if email != user.Email {
			if err := s.ensureEmailFree(ctx, email, user.ID); err != nil {
				return err
			}
		}
		user.Names = strings.TrimSpace(req.Names)
		user.Surnames = strings.TrimSpace(req.Surnames)
		user.Email = email
		user.RoleID = role.ID
		user.RoleName = role.Name
		if err := s.repo.Update(ctx, user); err != nil {
			if database.IsUniqueViolation(err) {
				return emailConflict(email)
			}
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clonef(appErrors.ErrNotFound, "user %d not found", id)
			}
			return appErrors.Internal(err, "failed to update user")
		}
		return s.audit.Record(ctx, actorID, catalog.ActionUpdate, catalog.TargetUser, user.ID)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Deactivate disables a user account. Users cannot deactivate themselves and deactivating an
// inactive account is a no-op.
func (s *UserService) Deactivate(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return appErrors.Clone(appErrors.ErrValidation, "users cannot deactivate their own account")
	}
	return s.setActive(ctx, actorID, id, false, catalog.ActionDelete)
}

// Activate re-enables a user account.
func (s *UserService) Activate(ctx context.Context, actorID, id int64) error {
	return s.setActive(ctx, actorID, id, true, catalog.ActionUpdate)
}

func (s *UserService) setActive(ctx context.Context, actorID, id int64, active bool, action catalog.Action) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if user.Active == active {
			return nil
		}
		if err := s.repo.SetActive(ctx, id, active); err != nil {
			return appErrors.Internal(err, "failed to update user status")
		}
		return s.audit.Record(ctx, actorID, action, catalog.TargetUser, id)
	})
}

func (s *UserService) ensureEmailFree(ctx context.Context, email string, excludeID int64) error {
	taken, err := s.repo.EmailTaken(ctx, email, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check email")
	}
	if taken {
		return emailConflict(email)
	}
	return nil
}

func emailConflict(email string) error {
	return appErrors.Clonef(appErrors.ErrConflict, "email %s is already registered", email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
