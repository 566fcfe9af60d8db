// Package http serves the mbpip REST API over gin.
package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appcoeff "github.com/turtacn/mbnrg-pip/internal/application/coefficient"
	appcov "github.com/turtacn/mbnrg-pip/internal/application/coverage"
	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/handlers"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/middleware"
)

// RouterConfig collects the services behind the API. Coefficients and
// Coverage may be nil; their routes then answer 503.
type RouterConfig struct {
	Mode        string
	Version     string
	MaxBodySize int64

	Evaluation   evaluation.Service
	Coefficients appcoeff.Service
	Coverage     appcov.Service
	Checkers     []handlers.HealthChecker

	CORS        *middleware.CORSConfig
	RateLimiter middleware.RateLimiter
	APIKeys     []string

	Logger      logging.Logger
	Collector   prometheus.MetricsCollector
	AppMetrics  *prometheus.AppMetrics
	MetricsPath string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	log := cfg.Logger.Named("http")

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log, cfg.AppMetrics))
	r.Use(middleware.RequestLogging(log, cfg.AppMetrics, middleware.DefaultLoggingConfig()))
	if cfg.CORS != nil && len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter, "/healthz", "/readyz", "/metrics"))
	}
	r.Use(middleware.BodyLimit(cfg.MaxBodySize))

	health := handlers.NewHealthHandler(cfg.Version, cfg.AppMetrics, cfg.Checkers...)
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)
	if cfg.Collector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.Collector.Handler()))
	}

	api := r.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(middleware.AuthConfig{Keys: cfg.APIKeys}, log))

	basis := handlers.NewBasisHandler()
	api.GET("/basis", basis.Describe)
	api.GET("/basis/terms/:index", basis.Term)

	if cfg.Evaluation != nil {
		ev := handlers.NewEvaluationHandler(cfg.Evaluation)
		api.POST("/evaluate", ev.Evaluate)
		api.POST("/evaluate/batch", ev.EvaluateBatch)
		api.POST("/gradcheck", ev.GradCheck)
	}

	co := handlers.NewCoefficientHandler(cfg.Coefficients)
	sets := api.Group("/coefficient-sets")
	sets.POST("", co.Upload)
	sets.GET("", co.List)
	sets.GET("/:id", co.Get)
	sets.GET("/:id/document", co.Document)
	sets.DELETE("/:id", co.Delete)

	cv := handlers.NewCoverageHandler(cfg.Coverage)
	sets.POST("/:id/coverage", cv.Ingest)
	sets.GET("/:id/coverage", cv.List)

	return r
}

// DefaultRateLimiter builds the in-memory limiter, or nil when rps is 0.
func DefaultRateLimiter(rps float64, burst int) *middleware.TokenBucketLimiter {
	if rps <= 0 {
		return nil
	}
	return middleware.NewTokenBucketLimiter(rps, burst, 5*time.Minute)
}
