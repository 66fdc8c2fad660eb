// Package v1 provides the HTTP handlers of the resurrection API.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/logging"
	"github.com/xiaot623/lazarus/internal/metrics"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Runner is the service surface used by the handlers.
type Runner interface {
	Resurrect(ctx context.Context, req domain.RunRequest) <-chan domain.Event
	CommitArtifact(ctx context.Context, req domain.CommitRequest) domain.DeploymentOutcome
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler handles HTTP requests.
type Handler struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHandler creates a new handler. m may be nil.
func NewHandler(runner Runner, m *metrics.Metrics) *Handler {
	return &Handler{
		runner:  runner,
		metrics: m,
		logger:  logging.Component("api"),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/resurrect", h.Resurrect)
	e.GET("/api/resurrect/ws", h.ResurrectWS)
	e.POST("/api/commit", h.Commit)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
