// Package httpserver provides HTTP server infrastructure components.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Component and readiness statuses reported by the health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// severity orders component statuses from best to worst. Statuses missing
// from the table rank as unhealthy.
var severity = map[string]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

// ComponentStatus is the health of one part of the feed: the main loop, the
// redis connection or the websocket hub.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Components    []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker reports whether the application can serve traffic.
type HealthChecker interface {
	// IsReady reports whether every component needed to serve the feed is up.
	IsReady(ctx context.Context) bool

	// GetHealthStatus returns the status of each component.
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// Aggregate returns the worst status among components, or StatusHealthy
// when there are none.
func Aggregate(components []ComponentStatus) string {
	worst := StatusHealthy
	for _, comp := range components {
		rank, ok := severity[comp.Status]
		if !ok {
			return StatusUnhealthy
		}
		if rank > severity[worst] {
			worst = comp.Status
		}
	}
	return worst
}

// HealthEndpoints serves liveness, readiness and per-component details.
type HealthEndpoints struct {
	checker HealthChecker
	started time.Time
}

// NewHealthEndpoints creates health endpoints backed by checker. A nil
// checker is always ready and reports no components.
func NewHealthEndpoints(checker HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{
		checker: checker,
		started: time.Now(),
	}
}

// Register mounts the endpoints on e:
//   - GET /health: liveness, 200 while the process serves HTTP
//   - GET /ready: 200 when the checker is ready, 503 otherwise
//   - GET /health/details: worst component status, 503 when unhealthy
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/ready", h.handleReady)
	e.GET("/health/details", h.handleHealthDetails)
}

func (h *HealthEndpoints) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        StatusHealthy,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

func (h *HealthEndpoints) handleReady(c echo.Context) error {
	ctx := c.Request().Context()
	resp := HealthResponse{Status: StatusReady, Components: h.components(ctx)}

	if h.checker != nil && !h.checker.IsReady(ctx) {
		resp.Status = StatusNotReady
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *HealthEndpoints) handleHealthDetails(c echo.Context) error {
	components := h.components(c.Request().Context())
	resp := HealthResponse{Status: Aggregate(components), Components: components}

	if resp.Status == StatusUnhealthy {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *HealthEndpoints) components(ctx context.Context) []ComponentStatus {
	if h.checker == nil {
		return nil
	}
	return h.checker.GetHealthStatus(ctx)
}
