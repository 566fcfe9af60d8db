// Package middleware holds the gin middleware of the HTTP API.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/handlers"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

const HeaderRequestID = "X-Request-ID"

// RequestID propagates X-Request-ID, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(handlers.RequestIDKey, id)
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Next()
	}
}

type LoggingConfig struct {
	// SkipPaths are not logged, e.g. probes.
	SkipPaths     []string
	SlowThreshold time.Duration
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// RequestLogging logs one line per request and records request metrics.
// The level follows the status: 5xx at error, 4xx and slow requests at
// warn.
func RequestLogging(logger logging.Logger, metrics *prometheus.AppMetrics, config LoggingConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		prometheus.RecordHTTPRequest(metrics, c.Request.Method, route, status, d)

		if skip[c.Request.URL.Path] {
			return
		}
		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.String("route", route),
			logging.Int("status", status),
			logging.Duration("duration", d),
			logging.Int("bytes", c.Writer.Size()),
			logging.String("client_ip", c.ClientIP()),
			logging.String("request_id", c.GetString(handlers.RequestIDKey)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logging.String("error", c.Errors.Last().Error()))
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request failed", fields...)
		case status >= 400:
			logger.Warn("HTTP request rejected", fields...)
		case config.SlowThreshold > 0 && d >= config.SlowThreshold:
			logger.Warn("HTTP request slow", fields...)
		default:
			logger.Info("HTTP request completed", fields...)
		}
	}
}

// Recovery turns panics into a masked 500.
func Recovery(logger logging.Logger, metrics *prometheus.AppMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					logging.String("path", c.Request.URL.Path),
					logging.String("panic", fmt.Sprint(r)),
					logging.String("request_id", c.GetString(handlers.RequestIDKey)))
				prometheus.RecordError(metrics, "http", "panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, handlers.ErrorResponse{
					Code:      string(errors.ErrCodeInternal),
					Message:   errors.DefaultMessageForCode(errors.ErrCodeInternal),
					RequestID: c.GetString(handlers.RequestIDKey),
				})
			}
		}()
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
