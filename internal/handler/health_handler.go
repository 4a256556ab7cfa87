package handler

import (
	"context"
	"net/http"
	"time"

	"shopcheckout/internal/metrics"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Pinger は依存先の疎通確認（DB/redis）。
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks   map[string]Pinger
	gatherer prometheus.Gatherer
}

func NewHealthHandler(gatherer prometheus.Gatherer, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks, gatherer: gatherer}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.healthz)
	if h.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(h.gatherer)))
	}
}

func (h *HealthHandler) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	out := HealthResponse{Status: "ok"}
	code := http.StatusOK
	for name, p := range h.checks {
		if out.Checks == nil {
			out.Checks = make(map[string]string, len(h.checks))
		}
		if err := p.Ping(ctx); err != nil {
			out.Checks[name] = err.Error()
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		out.Checks[name] = "ok"
	}
	return c.JSON(code, out)
}
