package handler

import (
	"net/http"

	"shopcheckout/internal/config"
	"shopcheckout/internal/middleware"
	"shopcheckout/internal/usecase"

	"github.com/labstack/echo/v4"
)

const idempotencyHeader = "X-Idempotency-Key"

type CheckoutHandler struct {
	uc *usecase.CheckoutUsecase
}

func NewCheckoutHandler(uc *usecase.CheckoutUsecase) *CheckoutHandler {
	return &CheckoutHandler{uc: uc}
}

type CheckoutRequest struct {
	CartLineIDs     []int64 `json:"cart_line_ids"`
	ShippingAddress string  `json:"shipping_address"`
	ShippingPhone   string  `json:"shipping_phone"`
	Note            string  `json:"note"`
	IdempotencyKey  string  `json:"idempotency_key"`
}

func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	e.POST("/checkout", h.checkout, middleware.AuthJWT(cfg))
}

func (h *CheckoutHandler) checkout(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//二重送信防止キーはヘッダー優先（無ければbody）
	idemKey := c.Request().Header.Get(idempotencyHeader)
	if idemKey == "" {
		idemKey = req.IdempotencyKey
	}

	out, err := h.uc.Checkout(c.Request().Context(), userID, usecase.CheckoutInput{
		CartLineIDs:     req.CartLineIDs,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
		Note:            req.Note,
		IdempotencyKey:  idemKey,
	})
	if err != nil {
		return writeError(c, err)
	}

	if out.Replayed {
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, out)
}
