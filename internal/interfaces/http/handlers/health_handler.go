package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// HealthChecker is a dependency probed by the readiness endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) common.ComponentHealth
}

type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	timeout  time.Duration
	metrics  *prometheus.AppMetrics
}

func NewHealthHandler(version string, metrics *prometheus.AppMetrics, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
		timeout:  5 * time.Second,
		metrics:  metrics,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type ReadinessResponse struct {
	Status     string                   `json:"status"`
	Components []common.ComponentHealth `json:"components,omitempty"`
}

// Liveness never checks dependencies.
func (h *HealthHandler) Liveness(c *gin.Context) {
	ok(c, LivenessResponse{
		Status:  string(common.HealthUp),
		Version: h.version,
		Uptime:  time.Since(h.startAt).Round(time.Second).String(),
	})
}

// Readiness probes every dependency concurrently and answers 503 when any
// is down.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	results := make([]common.ComponentHealth, len(h.checkers))
	var wg sync.WaitGroup
	for i, chk := range h.checkers {
		wg.Add(1)
		go func(i int, chk HealthChecker) {
			defer wg.Done()
			results[i] = chk.HealthCheck(ctx)
		}(i, chk)
	}
	wg.Wait()

	resp := ReadinessResponse{Status: string(common.HealthUp), Components: results}
	status := http.StatusOK
	for _, r := range results {
		up := r.Status == common.HealthUp
		prometheus.RecordHealth(h.metrics, r.Name, up)
		if !up {
			resp.Status = string(common.HealthDown)
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, resp)
}
