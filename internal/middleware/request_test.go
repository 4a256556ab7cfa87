package middleware_test

import (
	"bytes"
	"net/http"
	"testing"

	"shopcheckout/internal/logger"
	"shopcheckout/internal/metrics"
	"shopcheckout/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_SetsRequestIDAndLogs(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Service: "test", Writer: &buf})

	e := echo.New()
	e.Use(middleware.RequestLogger(log))

	var seen string
	e.GET("/orders/:id", func(c echo.Context) error {
		seen = middleware.RequestIDFrom(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	rec := runRequest(t, e, http.MethodGet, "/orders/5", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rid := rec.Header().Get(middleware.HeaderRequestID)
	assert.NotEmpty(t, rid)
	assert.Equal(t, rid, seen)
	assert.Contains(t, buf.String(), `"route":"/orders/:id"`)
	assert.Contains(t, buf.String(), rid)
}

// ハンドラのerrorもステータスとして数える
func TestMetrics_CountsByRoutePattern(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	e := echo.New()
	e.Use(middleware.Metrics(m))
	e.GET("/orders/:id", func(c echo.Context) error {
		if c.Param("id") == "0" {
			return echo.NewHTTPError(http.StatusBadRequest, "bad")
		}
		return c.NoContent(http.StatusOK)
	})

	runRequest(t, e, http.MethodGet, "/orders/1", "")
	runRequest(t, e, http.MethodGet, "/orders/2", "")
	rec := runRequest(t, e, http.MethodGet, "/orders/0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Requests.WithLabelValues("/orders/:id", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("/orders/:id", "400")))
}
