package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"shopcheckout/internal/config"
	"shopcheckout/internal/handler"
	"shopcheckout/internal/metrics"
	"shopcheckout/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const shutdownTimeout = 10 * time.Second

type Handlers struct {
	Cart       *handler.CartHandler
	Checkout   *handler.CheckoutHandler
	Order      *handler.OrderHandler
	AdminOrder *handler.AdminOrderHandler
	Stock      *handler.StockHandler
	Health     *handler.HealthHandler
}

// New はミドルウェアとルートを組んだechoを返す（起動はしない）
func New(cfg config.Config, log *slog.Logger, m *metrics.Metrics, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.Metrics(m))

	RegisterRoutes(e, cfg, h)
	return e
}

// Start はctxが終わったら受付を止め、処理中のリクエストを待ってから戻る
func Start(ctx context.Context, e *echo.Echo, addr string, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("http server shutting down")
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
