package repository

import (
	"context"
	"time"

	"shopcheckout/internal/domain/model"
)

type OrderListFilter struct {
	Page   int
	Limit  int
	Status *model.OrderStatus
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	// 一意制約違反はErrDuplicateOrderNumber / ErrDuplicateIdempotencyKey
	Create(ctx context.Context, order model.Order) (model.Order, error)

	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)

	// 新しい順
	List(ctx context.Context, f OrderListFilter) ([]model.Order, int64, error)

	// statusがfromのときだけtoへ更新する。更新できなければfalse
	UpdateStatusIf(ctx context.Context, orderID int64, from model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error)

	CountByUserID(ctx context.Context, userID int64) (int64, error)
	SumTotalByUserID(ctx context.Context, userID int64, statuses []model.OrderStatus) (int64, error)
}
