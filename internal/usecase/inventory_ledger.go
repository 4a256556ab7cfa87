package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/metrics"
	repo "shopcheckout/internal/repository"
)

const defaultLedgerTimeout = 2 * time.Second

// InventoryLedger は在庫の引当/戻しの窓口。
// 判定と減算の原子性はリポジトリ側（条件付きUPDATE/商品ロック）が持つ。
type InventoryLedger struct {
	inv     repo.InventoryRepository
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewInventoryLedger(inv repo.InventoryRepository, timeout time.Duration, m *metrics.Metrics) *InventoryLedger {
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}
	return &InventoryLedger{inv: inv, timeout: timeout, metrics: m}
}

// Within はトランザクション内のリポジトリで同じ台帳を使う
func (l *InventoryLedger) Within(inv repo.InventoryRepository) *InventoryLedger {
	return &InventoryLedger{inv: inv, timeout: l.timeout, metrics: l.metrics}
}

// TryReserve は在庫が足りるときだけ減らす。
// 足りなければErrInsufficientStock（在庫は変えない）。
func (l *InventoryLedger) TryReserve(ctx context.Context, productID int64, qty int64, ref string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := l.inv.DecreaseStockIfEnough(ctx, productID, qty, ref)
	if errors.Is(err, repo.ErrNotFound) {
		l.metrics.LedgerOp("reserve", "unavailable")
		return &UnavailableError{ProductID: productID}
	}
	if err != nil {
		l.metrics.LedgerOp("reserve", "error")
		return persistence("reserve", err)
	}
	if !ok {
		l.metrics.LedgerOp("reserve", "insufficient")
		return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}

	l.metrics.LedgerOp("reserve", "ok")
	return nil
}

// Release は引当の取り消し（無条件に加算）
func (l *InventoryLedger) Release(ctx context.Context, productID int64, qty int64, ref string) error {
	return l.increase(ctx, "release", productID, qty, model.AdjustmentRelease, ref)
}

// Restock は注文キャンセルによる在庫戻し
func (l *InventoryLedger) Restock(ctx context.Context, productID int64, qty int64, ref string) error {
	return l.increase(ctx, "restock", productID, qty, model.AdjustmentRestock, ref)
}

func (l *InventoryLedger) increase(ctx context.Context, op string, productID int64, qty int64, reason model.AdjustmentReason, ref string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.inv.IncreaseStock(ctx, productID, qty, reason, ref); err != nil {
		l.metrics.LedgerOp(op, "error")
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%s product %d: %w", op, productID, err)
		}
		return persistence(op, err)
	}
	l.metrics.LedgerOp(op, "ok")
	return nil
}

// CurrentStock は参考値。引当の判定には使わないこと。
func (l *InventoryLedger) CurrentStock(ctx context.Context, productID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, err := l.inv.GetStock(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, fmt.Errorf("product %d: %w", productID, err)
	}
	if err != nil {
		return 0, persistence("current stock", err)
	}
	return n, nil
}
