package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"

	"golang.org/x/sync/errgroup"
)

const historyPageSize = 100

// OrderQueryUsecase は読み取り専用。コミット済みの行しか見えない。
type OrderQueryUsecase struct {
	tx       repo.TransactionManager
	orders   repo.OrderRepository
	products repo.ProductRepository
	ledger   *InventoryLedger
}

func NewOrderQueryUsecase(tx repo.TransactionManager, orders repo.OrderRepository, products repo.ProductRepository, ledger *InventoryLedger) *OrderQueryUsecase {
	return &OrderQueryUsecase{tx: tx, orders: orders, products: products, ledger: ledger}
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type OrderOutput struct {
	ID              int64             `json:"id"`
	OrderNumber     string            `json:"order_number"`
	UserID          int64             `json:"user_id"`
	Status          string            `json:"status"`
	Subtotal        int64             `json:"subtotal"`
	ShippingFee     int64             `json:"shipping_fee"`
	TotalAmount     int64             `json:"total_amount"`
	ShippingAddress string            `json:"shipping_address"`
	ShippingPhone   string            `json:"shipping_phone"`
	Note            string            `json:"note"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Items           []OrderItemOutput `json:"items"`
}

type OrderSummary struct {
	ID          int64     `json:"id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"total_amount"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderPage struct {
	Items []OrderSummary `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

type StockLevel struct {
	ProductID int64 `json:"product_id"`
	Stock     int64 `json:"stock"`
	IsActive  bool  `json:"is_active"`
}

type UserOrderStats struct {
	OrderCount int64 `json:"order_count"`
	TotalSpent int64 `json:"total_spent"`
}

// 支払い済み扱いのステータス（集計用）
var spentStatuses = []model.OrderStatus{model.OrderStatusShipped, model.OrderStatusDelivered}

// GetOrderHistory は新しい順。statusがnilなら全件。
func (u *OrderQueryUsecase) GetOrderHistory(ctx context.Context, userID int64, status *model.OrderStatus) ([]OrderSummary, error) {
	if userID <= 0 {
		return nil, invalidInput("user id")
	}

	out := []OrderSummary{}
	for page := 1; ; page++ {
		orders, total, err := u.orders.List(ctx, repo.OrderListFilter{
			Page:   page,
			Limit:  historyPageSize,
			Status: status,
			UserID: &userID,
		})
		if err != nil {
			return nil, persistence("list orders", err)
		}
		for _, o := range orders {
			out = append(out, toOrderSummary(o))
		}
		if len(orders) < historyPageSize || int64(len(out)) >= total {
			return out, nil
		}
	}
}

func (u *OrderQueryUsecase) GetOrderDetail(ctx context.Context, orderID int64) (OrderOutput, error) {
	return u.detail(ctx, orderID, 0)
}

// GetMyOrderDetail は他人の注文を「存在しない扱い」にする
func (u *OrderQueryUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, invalidInput("user id")
	}
	return u.detail(ctx, orderID, userID)
}

func (u *OrderQueryUsecase) detail(ctx context.Context, orderID int64, ownerID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, invalidInput("order id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("order %d: %w", orderID, repo.ErrNotFound)
		}
		if err != nil {
			return persistence("find order", err)
		}
		if ownerID != 0 && o.UserID != ownerID {
			return fmt.Errorf("order %d: %w", orderID, repo.ErrNotFound)
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return persistence("list order items", err)
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func (u *OrderQueryUsecase) GetByOrderNumber(ctx context.Context, orderNumber string) (OrderOutput, error) {
	if orderNumber == "" {
		return OrderOutput{}, invalidInput("order number")
	}
	o, err := u.orders.FindByOrderNumber(ctx, orderNumber)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, fmt.Errorf("order %s: %w", orderNumber, repo.ErrNotFound)
	}
	if err != nil {
		return OrderOutput{}, persistence("find order", err)
	}
	return u.detail(ctx, o.ID, 0)
}

// ListByStatus は管理者向けの一覧。statusがnilなら全件
func (u *OrderQueryUsecase) ListByStatus(ctx context.Context, status *model.OrderStatus, page int, limit int) (OrderPage, error) {
	// page/limitの最低限チェック
	if page < 1 {
		return OrderPage{}, invalidInput("invalid page")
	}
	if limit < 1 || limit > 100 {
		return OrderPage{}, invalidInput("invalid limit")
	}

	orders, total, err := u.orders.List(ctx, repo.OrderListFilter{Page: page, Limit: limit, Status: status})
	if err != nil {
		return OrderPage{}, persistence("list orders", err)
	}

	items := make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderSummary(o))
	}
	return OrderPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (u *OrderQueryUsecase) GetStock(ctx context.Context, productID int64) (StockLevel, error) {
	if productID <= 0 {
		return StockLevel{}, invalidInput("product id")
	}

	p, err := u.products.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return StockLevel{}, fmt.Errorf("product %d: %w", productID, repo.ErrNotFound)
	}
	if err != nil {
		return StockLevel{}, persistence("find product", err)
	}

	stock, err := u.ledger.CurrentStock(ctx, productID)
	if err != nil {
		return StockLevel{}, err
	}
	return StockLevel{ProductID: productID, Stock: stock, IsActive: p.IsActive}, nil
}

// GetUserStats は注文数と支払い済み（SHIPPED/DELIVERED）合計
func (u *OrderQueryUsecase) GetUserStats(ctx context.Context, userID int64) (UserOrderStats, error) {
	if userID <= 0 {
		return UserOrderStats{}, invalidInput("user id")
	}

	var stats UserOrderStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := u.orders.CountByUserID(gctx, userID)
		if err != nil {
			return persistence("count orders", err)
		}
		stats.OrderCount = n
		return nil
	})
	g.Go(func() error {
		sum, err := u.orders.SumTotalByUserID(gctx, userID, spentStatuses)
		if err != nil {
			return persistence("sum orders", err)
		}
		stats.TotalSpent = sum
		return nil
	})
	if err := g.Wait(); err != nil {
		return UserOrderStats{}, err
	}
	return stats, nil
}

func toOrderSummary(o model.Order) OrderSummary {
	return OrderSummary{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
	}
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Subtotal:  it.Subtotal,
		})
	}

	return OrderOutput{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          string(o.Status),
		Subtotal:        o.Subtotal,
		ShippingFee:     o.ShippingFee,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		ShippingPhone:   o.ShippingPhone,
		Note:            o.Note,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           outItems,
	}
}
