package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/lifecycle"
	"github.com/noah-isme/pandebugger-api/internal/repository"
	"github.com/noah-isme/pandebugger-api/internal/service"
	"github.com/noah-isme/pandebugger-api/pkg/config"
	"github.com/noah-isme/pandebugger-api/pkg/database"
	"github.com/noah-isme/pandebugger-api/pkg/logger"
	"github.com/noah-isme/pandebugger-api/pkg/storage"
	"github.com/noah-isme/pandebugger-api/pkg/validation"
)

// commandContext lazily builds the dependencies shared by subcommands.
type commandContext struct {
	once   sync.Once
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	err    error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) open(ctx context.Context) (*sqlx.DB, *config.Config, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = fmt.Errorf("load config: %w", err)
			return
		}
		logr, err := logger.New(cfg)
		if err != nil {
			c.err = fmt.Errorf("init logger: %w", err)
			return
		}
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			c.err = fmt.Errorf("connect postgres: %w", err)
			return
		}
		c.cfg, c.logger, c.db = cfg, logr, db
	})
	return c.db, c.cfg, c.err
}

func (c *commandContext) close() {
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// adminServices holds the services used by the data commands.
type adminServices struct {
	users *service.UserService
	books *service.BookService
}

func (c *commandContext) services(ctx context.Context) (*adminServices, error) {
	db, cfg, err := c.open(ctx)
	if err != nil {
		return nil, err
	}

	refs := repository.NewReferenceRepository(db)
	var (
		registry *lifecycle.Registry
		cat      *catalog.Catalog
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		registry, err = lifecycle.Load(gctx, refs)
		return err
	})
	g.Go(func() error {
		var err error
		cat, err = catalog.Load(gctx, refs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	assets, err := storage.NewAssetStore(ctx, cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("configure asset store: %w", err)
	}

	tx := database.NewTransactor(db)
	validate := validation.New()
	auditRepo := repository.NewAuditRepository(db)
	audit := service.NewAuditWriter(auditRepo, cat, nil)
	categories := repository.NewCategoryRepository(db)

	return &adminServices{
		users: service.NewUserService(repository.NewUserRepository(db), cat, audit, tx, service.NewBcryptHasher(0), validate, c.logger),
		books: service.NewBookService(repository.NewBookRepository(db), repository.NewTaskRepository(db), categories, audit,
			service.NewHistoryService(auditRepo, cat), registry, tx, assets, validate, c.logger, service.BookServiceOptions{}),
	}, nil
}
