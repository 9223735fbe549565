package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/ingest"
	"cvsearch-backend/internal/services/health"
	"cvsearch-backend/internal/shared/config"
	"cvsearch-backend/internal/shared/metrics"
	"cvsearch-backend/internal/shared/server/middleware"
	"cvsearch-backend/internal/shared/server/respond"
	"cvsearch-backend/internal/uploads"
)

const (
	rateGroupDefault = "DEFAULT"
	rateGroupUpload  = "UPLOAD"
	rateGroupSearch  = "SEARCH"
)

// RouterDeps carries the handlers mounted by NewRouter.
type RouterDeps struct {
	Config          config.Config
	DocumentHandler *documents.Handler
	UploadHandler   *uploads.Handler
	IngestHandler   *ingest.Handler
	Health          *health.Service
	RateLimiter     *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	api.GET("/ready", func(c *gin.Context) {
		report := healthSvc.Ready(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	if deps.IngestHandler != nil {
		deps.IngestHandler.RegisterRoutes(api)
	}

	owned := api.Group("")
	owned.Use(
		middleware.Identity(deps.Config.JWTSecret),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      deps.RateLimiter,
			Rules: map[string]middleware.RateLimitRule{
				rateGroupDefault: {Rate: 5, Burst: 20},
				rateGroupUpload:  {Rate: 1, Burst: 5},
				rateGroupSearch:  {Rate: 10, Burst: 30},
			},
		}),
	)
	registerMeRoutes(owned)
	if deps.UploadHandler != nil {
		deps.UploadHandler.RegisterRoutes(owned)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(owned)
	}

	return r
}

func rateGroupFor(c *gin.Context) string {
	switch {
	case c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/documents":
		return rateGroupUpload
	case strings.HasSuffix(c.FullPath(), "/documents/search"):
		return rateGroupSearch
	default:
		return rateGroupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
