package memory

import (
	"context"
	"sort"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"
)

type CartRepository struct {
	s *Store
	t *tx
}

func sortLines(lines []model.CartLine) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
}

func (r *CartRepository) ListByUserID(ctx context.Context, userID int64) ([]model.CartLine, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	out := []model.CartLine{}
	for _, l := range r.s.cart {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sortLines(out)
	return out, nil
}

func (r *CartRepository) FindByIDs(ctx context.Context, userID int64, lineIDs []int64) ([]model.CartLine, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	seen := make(map[int64]bool, len(lineIDs))
	out := []model.CartLine{}
	for _, id := range lineIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if l, ok := r.s.cart[id]; ok && l.UserID == userID {
			out = append(out, l)
		}
	}
	sortLines(out)
	return out, nil
}

// 同一商品は数量加算（tableMuの中で読み→書き）
func (r *CartRepository) UpsertByUserAndProduct(ctx context.Context, userID int64, productID int64, addQty int64) (model.CartLine, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	now := r.s.now()
	for id, l := range r.s.cart {
		if l.UserID == userID && l.ProductID == productID {
			prev := l
			l.Quantity += addQty
			l.UpdatedAt = now
			r.s.cart[id] = l
			r.t.onRollback(func() { r.s.cart[id] = prev })
			return l, nil
		}
	}

	l := model.CartLine{
		ID:        r.s.seqCart.Add(1),
		UserID:    userID,
		ProductID: productID,
		Quantity:  addQty,
		AddedAt:   now,
		UpdatedAt: now,
	}
	r.s.cart[l.ID] = l
	r.t.onRollback(func() { delete(r.s.cart, l.ID) })
	return l, nil
}

func (r *CartRepository) UpdateQuantity(ctx context.Context, userID int64, lineID int64, qty int64) (model.CartLine, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	l, ok := r.s.cart[lineID]
	if !ok || l.UserID != userID {
		return model.CartLine{}, repo.ErrNotFound
	}
	prev := l
	l.Quantity = qty
	l.UpdatedAt = r.s.now()
	r.s.cart[lineID] = l
	r.t.onRollback(func() { r.s.cart[lineID] = prev })
	return l, nil
}

func (r *CartRepository) DeleteByIDs(ctx context.Context, userID int64, lineIDs []int64) (int64, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	var n int64
	for _, id := range lineIDs {
		l, ok := r.s.cart[id]
		if !ok || l.UserID != userID {
			continue
		}
		delete(r.s.cart, id)
		r.t.onRollback(func() { r.s.cart[l.ID] = l })
		n++
	}
	return n, nil
}

func (r *CartRepository) DeleteByUserID(ctx context.Context, userID int64) error {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	for id, l := range r.s.cart {
		if l.UserID == userID {
			delete(r.s.cart, id)
			r.t.onRollback(func() { r.s.cart[l.ID] = l })
		}
	}
	return nil
}

func (r *CartRepository) ConsumeLines(ctx context.Context, userID int64, used []model.CartLine) (int64, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	var kept int64
	for _, u := range used {
		l, ok := r.s.cart[u.ID]
		if !ok || l.UserID != userID {
			continue
		}
		prev := l
		if l.Quantity <= u.Quantity {
			delete(r.s.cart, l.ID)
		} else {
			l.Quantity -= u.Quantity
			l.UpdatedAt = r.s.now()
			r.s.cart[l.ID] = l
			kept++
		}
		r.t.onRollback(func() { r.s.cart[prev.ID] = prev })
	}
	return kept, nil
}
