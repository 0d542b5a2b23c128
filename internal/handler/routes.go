package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/internal/middleware"
	"github.com/noah-isme/pandebugger-api/internal/models"
)

// Handlers groups every HTTP handler mounted under the API prefix.
type Handlers struct {
	Auth     *AuthHandler
	Books    *BookHandler
	Exports  *ExportHandler
	Category *CategoryHandler
	Users    *UserHandler
	Tasks    *TaskHandler
	History  *HistoryHandler
	Metrics  *MetricsHandler
}

// RouteMiddleware carries the middleware that depends on runtime wiring.
type RouteMiddleware struct {
	// Auth authenticates the request and stores claims under middleware.ContextUserKey.
	Auth gin.HandlerFunc
	// LoginLimit throttles login attempts. Optional.
	LoginLimit gin.HandlerFunc
}

var (
	anyRole       = []string{models.RoleAdmin, models.RoleLibrarian, models.RoleDigitizer}
	curators      = []string{models.RoleAdmin, models.RoleLibrarian}
	digitizers    = []string{models.RoleAdmin, models.RoleDigitizer}
	administrator = []string{models.RoleAdmin}
	adminOrSelf   = []string{models.RoleAdmin, middleware.Self}
)

// RegisterRoutes mounts the API on api. Signed file downloads sit outside authentication since
// their token already authorizes the request.
func RegisterRoutes(api gin.IRouter, h Handlers, mw RouteMiddleware) {
	login := []gin.HandlerFunc{}
	if mw.LoginLimit != nil {
		login = append(login, mw.LoginLimit)
	}
	api.POST("/auth/login", append(login, h.Auth.Login)...)
	api.GET("/books/:id/pdf", h.Books.PDF)
	api.GET("/exports/:token", h.Exports.Download)

	secured := api.Group("")
	secured.Use(mw.Auth)

	secured.POST("/auth/change-password", h.Auth.ChangePassword)
	secured.GET("/auth/me", h.Auth.Me)

	secured.GET("/states", middleware.RBAC(anyRole...), h.Books.States)

	books := secured.Group("/books")
	books.GET("", middleware.RBAC(anyRole...), h.Books.List)
	books.POST("", middleware.RBAC(curators...), h.Books.Create)
	books.POST("/export", middleware.RBAC(curators...), h.Exports.Create)
	books.GET("/:id", middleware.RBAC(anyRole...), h.Books.Get)
	books.PUT("/:id", middleware.RBAC(curators...), h.Books.Update)
	books.DELETE("/:id", middleware.RBAC(curators...), h.Books.Delete)
	books.POST("/:id/review", middleware.RBAC(curators...), h.Books.Review)
	books.POST("/:id/restoration", middleware.RBAC(curators...), h.Books.Restoration)
	books.POST("/:id/digitize", middleware.RBAC(digitizers...), h.Books.Digitize)
	books.POST("/:id/classify", middleware.RBAC(curators...), h.Books.Classify)
	books.POST("/:id/quality-approval", middleware.RBAC(curators...), h.Books.ApproveQuality)
	books.GET("/:id/history", middleware.RBAC(anyRole...), h.Books.History)
	books.GET("/:id/download-link", middleware.RBAC(anyRole...), h.Books.DownloadLink)

	categories := secured.Group("/categories")
	categories.GET("", middleware.RBAC(anyRole...), h.Category.List)
	categories.POST("", middleware.RBAC(curators...), h.Category.Create)
	categories.GET("/:id", middleware.RBAC(anyRole...), h.Category.Get)

	users := secured.Group("/users")
	users.GET("", middleware.RBAC(administrator...), h.Users.List)
	users.POST("", middleware.RBAC(administrator...), h.Users.Create)
	users.GET("/:id", middleware.RBAC(adminOrSelf...), h.Users.Get)
	users.PUT("/:id", middleware.RBAC(administrator...), h.Users.Update)
	users.POST("/:id/deactivate", middleware.RBAC(administrator...), h.Users.Deactivate)
	users.POST("/:id/activate", middleware.RBAC(administrator...), h.Users.Activate)
	secured.GET("/roles", middleware.RBAC(administrator...), h.Users.Roles)

	secured.GET("/tasks", middleware.RBAC(anyRole...), h.Tasks.List)
	secured.GET("/tasks/:id", middleware.RBAC(anyRole...), h.Tasks.Get)

	secured.GET("/actions", middleware.RBAC(anyRole...), h.History.Actions)
	secured.GET("/target-types", middleware.RBAC(anyRole...), h.History.TargetTypes)

	history := secured.Group("/history")
	history.GET("", middleware.RBAC(administrator...), h.History.Search)
	history.GET("/entries/:id", middleware.RBAC(administrator...), h.History.Get)
	history.GET("/recent", middleware.RBAC(administrator...), h.History.Recent)
	history.GET("/users/:id", middleware.RBAC(adminOrSelf...), h.History.ByUser)
	history.GET("/:targetType/:id", middleware.RBAC(curators...), h.History.ByTarget)

	secured.GET("/metrics/summary", middleware.RBAC(administrator...), h.Metrics.Summary)
}
