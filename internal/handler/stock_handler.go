package handler

import (
	"net/http"
	"strconv"

	"shopcheckout/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 在庫の参照（公開）。値は参考で、注文時に再判定する
type StockHandler struct {
	query *usecase.OrderQueryUsecase
}

func NewStockHandler(query *usecase.OrderQueryUsecase) *StockHandler {
	return &StockHandler{query: query}
}

func (h *StockHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/stock/:productId", h.get)
}

func (h *StockHandler) get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.query.GetStock(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
