package handler

import (
	"errors"
	"net/http"

	repo "shopcheckout/internal/repository"
	"shopcheckout/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error     string  `json:"error"`
	Reason    string  `json:"reason,omitempty"`
	ProductID int64   `json:"product_id,omitempty"`
	LineIDs   []int64 `json:"line_ids,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// statusOf はusecaseのエラーをHTTPステータスに寄せる
func statusOf(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput), errors.Is(err, usecase.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, usecase.ErrLineVanished),
		errors.Is(err, usecase.ErrProductUnavailable),
		errors.Is(err, usecase.ErrInsufficientStock),
		errors.Is(err, usecase.ErrEmptyOrder),
		errors.Is(err, usecase.ErrInvalidTransition),
		errors.Is(err, usecase.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	status := statusOf(err)
	body := ErrorResponse{Error: http.StatusText(status)}
	if status < http.StatusInternalServerError {
		body.Error = err.Error()
	}

	// チェックアウトの中断は理由と対象を返す
	if ae, ok := usecase.AsAbortError(err); ok {
		body.Reason = string(ae.Reason)
		body.ProductID = ae.ProductID
		body.LineIDs = ae.LineIDs
	}

	//500
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	return c.JSON(status, body)
}

func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get("user_id")
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}
