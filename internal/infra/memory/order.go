package memory

import (
	"context"
	"sort"
	"time"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"
)

type OrderRepository struct {
	s *Store
	t *tx
}

func (r *OrderRepository) Create(ctx context.Context, order model.Order) (model.Order, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	if _, ok := r.s.orderNumbers[order.OrderNumber]; ok {
		return model.Order{}, repo.ErrDuplicateOrderNumber
	}
	ik := idemKey{userID: order.UserID, key: order.IdempotencyKey}
	if _, ok := r.s.idem[ik]; ok {
		return model.Order{}, repo.ErrDuplicateIdempotencyKey
	}

	order.ID = r.s.seqOrder.Add(1)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.s.now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	r.s.orders[order.ID] = order
	r.s.orderNumbers[order.OrderNumber] = order.ID
	r.s.idem[ik] = order.ID

	r.t.onRollback(func() {
		delete(r.s.orders, order.ID)
		delete(r.s.orderNumbers, order.OrderNumber)
		delete(r.s.idem, ik)
	})
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	o, ok := r.s.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	id, ok := r.s.orderNumbers[orderNumber]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return r.s.orders[id], nil
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	id, ok := r.s.idem[idemKey{userID: userID, key: key}]
	if !ok {
		return model.Order{}, false, nil
	}
	return r.s.orders[id], true, nil
}

// 新しい順
func (r *OrderRepository) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	matched := []model.Order{}
	for _, o := range r.s.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, o)
	}
	r.s.tableMu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start >= len(matched) {
		return []model.Order{}, total, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *OrderRepository) UpdateStatusIf(ctx context.Context, orderID int64, from model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	o, ok := r.s.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	prev := o
	o.Status = to
	o.UpdatedAt = at
	r.s.orders[orderID] = o
	r.t.onRollback(func() { r.s.orders[orderID] = prev })
	return true, nil
}

func (r *OrderRepository) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	var n int64
	for _, o := range r.s.orders {
		if o.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *OrderRepository) SumTotalByUserID(ctx context.Context, userID int64, statuses []model.OrderStatus) (int64, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	want := make(map[model.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var sum int64
	for _, o := range r.s.orders {
		if o.UserID == userID && want[o.Status] {
			sum += o.TotalAmount
		}
	}
	return sum, nil
}

type OrderItemRepository struct {
	s *Store
	t *tx
}

func (r *OrderItemRepository) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) ([]model.OrderItem, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	if _, ok := r.s.orders[orderID]; !ok {
		return nil, repo.ErrNotFound
	}

	now := r.s.now()
	rows := make([]model.OrderItem, len(items))
	for i, it := range items {
		it.ID = r.s.seqItem.Add(1)
		it.OrderID = orderID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		rows[i] = it
	}

	prev := r.s.items[orderID]
	r.s.items[orderID] = append(append([]model.OrderItem{}, prev...), rows...)
	r.t.onRollback(func() {
		if len(prev) == 0 {
			delete(r.s.items, orderID)
			return
		}
		r.s.items[orderID] = prev
	})
	return rows, nil
}

func (r *OrderItemRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	return append([]model.OrderItem{}, r.s.items[orderID]...), nil
}
