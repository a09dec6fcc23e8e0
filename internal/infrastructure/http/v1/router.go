// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"stockrecon/internal/domain/auth"
	"stockrecon/internal/infrastructure/http/v1/dto"
	"stockrecon/internal/infrastructure/http/v1/handlers"
	"stockrecon/internal/infrastructure/http/v1/middleware"
	"stockrecon/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Reconciliations drives the document endpoints
	Reconciliations handlers.ReconciliationService

	// Audit serves document history
	Audit handlers.AuditHistory

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Checks are probed by /health/ready, keyed by name
	Checks map[string]handlers.Checker

	// Mode is the gin mode (release, debug, test)
	Mode string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	if err := dto.RegisterBindingValidators(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(log))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Checks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTValidator))
	registerReconciliationRoutes(api, cfg)

	return router, nil
}

func registerReconciliationRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewReconciliationHandler(cfg.Reconciliations)
	history := handlers.NewHistoryHandler(cfg.Audit)

	edit := middleware.RequirePermission(auth.PermissionEdit)
	approve := middleware.RequirePermission(auth.PermissionApprove)

	docs := rg.Group("/reconciliations")
	{
		docs.GET("", h.List)
		docs.POST("", edit, h.Create)
		docs.POST("/preview", h.Preview)

		docs.GET("/:id", h.Get)
		docs.PUT("/:id", edit, h.Update)
		docs.DELETE("/:id", edit, h.Delete)
		docs.GET("/:id/preview", h.PreviewDocument)
		docs.GET("/:id/history", history.Reconciliation)

		docs.POST("/:id/import", edit, h.ImportLines)
		docs.POST("/:id/submit", edit, h.Submit)
		docs.POST("/:id/reopen", edit, h.Reopen)
		docs.POST("/:id/revise", edit, h.Revise)

		docs.POST("/:id/approve", approve, h.Approve)
		docs.POST("/:id/reject", approve, h.Reject)
		docs.POST("/:id/return", approve, h.ReturnForCorrection)
		docs.POST("/:id/accept-variance", approve, h.AcceptVariance)
	}
}
