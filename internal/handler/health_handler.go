// Package handler serves the receiver's operational endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-tracker-sync/internal/service"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/response"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler exposes the health and Prometheus endpoints.
type HealthHandler struct {
	metrics *service.MetricsService
	store   pinger
}

// NewHealthHandler constructs a health handler. A nil store skips the store check.
func NewHealthHandler(metrics *service.MetricsService, store pinger) *HealthHandler {
	return &HealthHandler{metrics: metrics, store: store}
}

// Register mounts /health and /metrics.
func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Prometheus)
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *HealthHandler) Prometheus(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports store reachability and the in-process counters.
func (h *HealthHandler) Health(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrTransient.Code, http.StatusServiceUnavailable, "store unreachable"))
			return
		}
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "ok", "metrics": h.metrics.Snapshot()})
}
