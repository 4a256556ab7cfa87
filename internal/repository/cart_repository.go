package repository

import (
	"context"

	"shopcheckout/internal/domain/model"
)

type CartRepository interface {
	ListByUserID(ctx context.Context, userID int64) ([]model.CartLine, error)

	// そのユーザーの明細のうち、指定IDに該当するものだけ返す（無いIDは結果に含まれない）
	FindByIDs(ctx context.Context, userID int64, lineIDs []int64) ([]model.CartLine, error)

	// 同一商品は数量加算
	UpsertByUserAndProduct(ctx context.Context, userID int64, productID int64, addQty int64) (model.CartLine, error)

	// 無ければErrNotFound
	UpdateQuantity(ctx context.Context, userID int64, lineID int64, qty int64) (model.CartLine, error)

	// 削除件数を返す。無いIDは無視
	DeleteByIDs(ctx context.Context, userID int64, lineIDs []int64) (int64, error)

	DeleteByUserID(ctx context.Context, userID int64) error

	// 注文に使った数量だけ明細から引く。0以下になった明細は削除。
	// 読み取り後に数量が増えていれば差分は残る。残った明細の件数を返す。
	ConsumeLines(ctx context.Context, userID int64, used []model.CartLine) (int64, error)
}
