package usecase

import (
	"errors"
	"fmt"
	"strings"

	"shopcheckout/internal/domain/model"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrLineVanished       = errors.New("cart line vanished")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrEmptyOrder         = errors.New("order has no lines")
	ErrPersistence        = errors.New("persistence error")
	ErrCancelled          = errors.New("checkout cancelled")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStatusConflict     = errors.New("order status changed concurrently")

	// 補償（在庫戻し）に失敗した。在庫が少なく見えている可能性がある
	ErrCompensationFailed = errors.New("compensation failed")
)

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// PersistenceError はストレージ障害（タイムアウト含む）。
// errors.Is(err, ErrPersistence) と 元のエラーの両方で判定できる。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// MissingLinesError は要求された明細のうち見つからなかったID。
type MissingLinesError struct {
	IDs []int64
}

func (e *MissingLinesError) Error() string {
	ids := make([]string, 0, len(e.IDs))
	for _, id := range e.IDs {
		ids = append(ids, fmt.Sprint(id))
	}
	return fmt.Sprintf("cart lines not found: %s", strings.Join(ids, ","))
}

func (e *MissingLinesError) Unwrap() error { return ErrLineVanished }

// UnavailableError は商品が無い/非公開。
type UnavailableError struct {
	ProductID int64
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %d is unavailable", e.ProductID)
}

func (e *UnavailableError) Unwrap() error { return ErrProductUnavailable }

type TransitionError struct {
	From model.OrderStatus
	To   model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type AbortReason string

const (
	AbortLineVanished       AbortReason = "LINE_VANISHED"
	AbortProductUnavailable AbortReason = "PRODUCT_UNAVAILABLE"
	AbortInsufficientStock  AbortReason = "INSUFFICIENT_STOCK"
	AbortInvalidQuantity    AbortReason = "INVALID_QUANTITY"
	AbortPersistence        AbortReason = "PERSISTENCE_ERROR"
	AbortCancelled          AbortReason = "CANCELLED"
)

// AbortError はチェックアウトが何も残さずに終わったことを表す。
// （補償失敗だけは例外で、その場合はErrCompensationFailedも含む）
type AbortError struct {
	Reason    AbortReason
	ProductID int64   // INSUFFICIENT_STOCK / PRODUCT_UNAVAILABLE
	LineIDs   []int64 // LINE_VANISHED
	Err       error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return "checkout aborted: " + string(e.Reason)
	}
	return fmt.Sprintf("checkout aborted: %s: %v", e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

func AsAbortError(err error) (*AbortError, bool) {
	var ae *AbortError
	ok := errors.As(err, &ae)
	return ae, ok
}

type WarningCode string

const (
	WarningCartCleanupFailed  WarningCode = "CART_CLEANUP_FAILED"
	WarningStockReleaseFailed WarningCode = "STOCK_RELEASE_FAILED"
)

// Warning は成功に付随する非致命の問題。
type Warning struct {
	Code   WarningCode `json:"code"`
	Detail string      `json:"detail"`
}
