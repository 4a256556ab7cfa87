package handler

import (
	"net/http"
	"strconv"

	"shopcheckout/internal/config"
	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/middleware"
	"shopcheckout/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	query  *usecase.OrderQueryUsecase
	status *usecase.OrderStatusUsecase
}

func NewOrderHandler(query *usecase.OrderQueryUsecase, status *usecase.OrderStatusUsecase) *OrderHandler {
	return &OrderHandler{query: query, status: status}
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))

	g.GET("", h.list)
	g.GET("/stats", h.stats)
	g.GET("/:id", h.detail)
	g.POST("/:id/cancel", h.cancel)
}

// statusクエリ（空なら全件）
func parseStatusQuery(c echo.Context) (*model.OrderStatus, bool) {
	v := c.QueryParam("status")
	if v == "" {
		return nil, true
	}
	st, ok := model.ParseOrderStatus(v)
	if !ok {
		return nil, false
	}
	return &st, true
}

func (h *OrderHandler) list(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	status, ok := parseStatusQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
	}

	out, err := h.query.GetOrderHistory(c.Request().Context(), userID, status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.query.GetMyOrderDetail(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) cancel(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	if _, err := h.status.CancelMyOrder(c.Request().Context(), userID, id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "cancelled"})
}

func (h *OrderHandler) stats(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.query.GetUserStats(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
