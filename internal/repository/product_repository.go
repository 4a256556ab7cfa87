package repository

import (
	"context"

	"shopcheckout/internal/domain/model"
)

// 商品カタログの読み取りと、テスト/シード用の作成だけを約束。
// stockはInventoryRepository以外からは書かない。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)

	// 見つからないIDはmapに入らない
	FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)

	// name/description/price/is_activeを更新（stockは対象外）
	Update(ctx context.Context, p model.Product) error

	// 論理削除。以後FindByID/在庫操作はErrNotFound
	Delete(ctx context.Context, id int64) error
}
