package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"shopcheckout/internal/metrics"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const HeaderRequestID = "X-Request-Id"

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxUserID
)

func withUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

// RequestIDFrom はRequestLoggerが入れたID（無ければ空）
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

// RequestLogger はリクエストIDを振り、1リクエスト1行のアクセスログを出す。
func RequestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(HeaderRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, rid)
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), ctxRequestID, rid)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			attrs := []any{
				"request_id", rid,
				"method", req.Method,
				"route", c.Path(),
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if uid, ok := c.Request().Context().Value(ctxUserID).(int64); ok {
				attrs = append(attrs, "user_id", uid)
			}

			switch {
			case c.Response().Status >= 500:
				log.Error("request", attrs...)
			case c.Response().Status >= 400:
				log.Warn("request", attrs...)
			default:
				log.Info("request", attrs...)
			}
			return nil
		}
	}
}

// Metrics はルート単位の件数とレイテンシ。ラベルはパスパターン（/orders/:id）
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(route, strconv.Itoa(c.Response().Status), time.Since(start))
			return nil
		}
	}
}
