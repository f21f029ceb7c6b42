package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lifecycle/internal/config"
	"github.com/stemsi/exstem-lifecycle/internal/handler"
	"github.com/stemsi/exstem-lifecycle/internal/middleware"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/response"
	"github.com/stemsi/exstem-lifecycle/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam      *handler.ExamHandler
	Lifecycle *handler.LifecycleHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// Every /api/v1 request gives the throttled sweep a chance to run first.
func SetupRouter(
	authService *service.AuthService,
	sweep middleware.SweepTrigger,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	api := router.Group("/api/v1")
	api.Use(middleware.NoStore(), middleware.ThrottledSweep(sweep))

	// ─── Admin Group (JWT + RBAC) ──────────────────────────────────────
	adminAPI := api.Group("/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/exams/:id",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Exam.GetExam,
		)
		adminAPI.GET("/exams/:id/readiness",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Exam.GetReadiness,
		)
		adminAPI.PUT("/exams/:id/state",
			middleware.RequirePermission(model.PermissionExamsPublish),
			handlers.Exam.ChangeState,
		)

		// Batch jobs (5 runs per minute per admin).
		lifecycleLimiter := middleware.NewRateLimiter(5, time.Minute)
		lifecycle := adminAPI.Group("/lifecycle")
		lifecycle.Use(
			middleware.RequirePermission(model.PermissionLifecycleRun),
			lifecycleLimiter.Middleware(),
		)
		{
			lifecycle.POST("/reconcile", handlers.Lifecycle.ReconcileAll)
			lifecycle.POST("/close-orphans", handlers.Lifecycle.CloseOrphans)
		}

		adminAPI.GET("/system/status", handlers.System.Status) // Open to all admins
	}

	return router
}
