package repository

import (
	"context"

	"shopcheckout/internal/domain/model"
)

// 在庫台帳。stockを変更できるのはここだけ。
type InventoryRepository interface {
	// 在庫が足りるときだけ減算（判定と減算は1文で原子的）。
	// 足りなければfalse、商品が無ければErrNotFound。
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64, ref string) (bool, error)

	// 在庫戻し（補償・キャンセル）
	IncreaseStock(ctx context.Context, productID int64, qty int64, reason model.AdjustmentReason, ref string) error

	// 現在値（参考値。引当の判定には使わない）
	GetStock(ctx context.Context, productID int64) (int64, error)

	// 台帳の仕訳一覧（古い順）
	ListAdjustments(ctx context.Context, productID int64) ([]model.InventoryAdjustment, error)
}
