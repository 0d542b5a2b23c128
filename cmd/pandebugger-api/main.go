package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/pandebugger-api/api/swagger"
	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/handler"
	"github.com/noah-isme/pandebugger-api/internal/lifecycle"
	internalmiddleware "github.com/noah-isme/pandebugger-api/internal/middleware"
	"github.com/noah-isme/pandebugger-api/internal/repository"
	"github.com/noah-isme/pandebugger-api/internal/service"
	"github.com/noah-isme/pandebugger-api/migrations"
	"github.com/noah-isme/pandebugger-api/pkg/cache"
	"github.com/noah-isme/pandebugger-api/pkg/config"
	"github.com/noah-isme/pandebugger-api/pkg/database"
	"github.com/noah-isme/pandebugger-api/pkg/jobs"
	"github.com/noah-isme/pandebugger-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/pandebugger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/pandebugger-api/pkg/middleware/requestid"
	"github.com/noah-isme/pandebugger-api/pkg/storage"
	"github.com/noah-isme/pandebugger-api/pkg/validation"
)

// @title Pandebugger API
// @version 1.0.0
// @description Book digitization pipeline
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db, migrations.Files)
		if err != nil {
			return fmt.Errorf("configure migrations: %w", err)
		}
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
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
		return fmt.Errorf("load reference data: %w", err)
	}

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			redisCache := repository.NewCacheRepository(client, "pandebugger:")
			defer redisCache.Close() //nolint:errcheck
			cacheRepo = redisCache
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cacheRepo != nil)

	assets, err := storage.NewAssetStore(ctx, cfg.Assets)
	if err != nil {
		return fmt.Errorf("configure asset store: %w", err)
	}
	exportFiles, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return fmt.Errorf("configure export storage: %w", err)
	}

	tx := database.NewTransactor(db)
	validate := validation.New()
	hasher := service.NewBcryptHasher(0)

	bookRepo := repository.NewBookRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	userRepo := repository.NewUserRepository(db)

	auditWriter := service.NewAuditWriter(auditRepo, cat, metrics)
	historySvc := service.NewHistoryService(auditRepo, cat)
	bookSvc := service.NewBookService(bookRepo, taskRepo, categoryRepo, auditWriter, historySvc, registry, tx, assets, validate, logr,
		service.BookServiceOptions{
			Metrics:         metrics,
			Signer:          storage.NewSignedURLSigner(cfg.Assets.SignedURLSecret, cfg.Assets.SignedURLTTL),
			DownloadBaseURL: cfg.APIPrefix,
		})
	userSvc := service.NewUserService(userRepo, cat, auditWriter, tx, hasher, validate, logr)
	authSvc := service.NewAuthService(userRepo, auditWriter, tx, hasher, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	categorySvc := service.NewCategoryService(categoryRepo, auditWriter, tx, cacheSvc, validate, logr)
	taskSvc := service.NewTaskService(taskRepo)

	var exportSvc *service.ExportService
	sweeper := jobs.NewQueue("exports", func(ctx context.Context, job jobs.Job) error {
		return exportSvc.HandleJob(ctx, job)
	}, jobs.QueueConfig{Workers: 1, BufferSize: 8, MaxRetries: 1, Logger: logr})
	exportSvc = service.NewExportService(bookSvc, exportFiles,
		storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
		service.ExportConfig{APIPrefix: cfg.APIPrefix, RetainFor: cfg.Exports.RetainFor, Sweeper: sweeper}, logr)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.WithResponseMeta())
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	loginLimiter := internalmiddleware.NewIPRateLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst)
	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Auth:     handler.NewAuthHandler(authSvc),
		Books:    handler.NewBookHandler(bookSvc),
		Exports:  handler.NewExportHandler(exportSvc),
		Category: handler.NewCategoryHandler(categorySvc),
		Users:    handler.NewUserHandler(userSvc),
		Tasks:    handler.NewTaskHandler(taskSvc),
		History:  handler.NewHistoryHandler(historySvc),
		Metrics:  metricsHandler,
	}, handler.RouteMiddleware{
		Auth:       internalmiddleware.JWT(authSvc),
		LoginLimit: internalmiddleware.RateLimit(loginLimiter),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
