package memory

import (
	"context"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"

	"gorm.io/gorm"
)

type ProductRepository struct {
	s *Store
	t *tx
}

func (r *ProductRepository) row(id int64) (*productRow, bool) {
	r.s.productsMu.RLock()
	defer r.s.productsMu.RUnlock()
	row, ok := r.s.products[id]
	if !ok || row.p.DeletedAt.Valid {
		return nil, false
	}
	return row, true
}

// snapshot はrow.pをproductsMuの読みロック中にコピーする（Updateと競合しない）
func (r *ProductRepository) snapshot(id int64) (model.Product, bool) {
	r.s.productsMu.RLock()
	defer r.s.productsMu.RUnlock()
	row, ok := r.s.products[id]
	if !ok || row.p.DeletedAt.Valid {
		return model.Product{}, false
	}
	p := row.p
	p.Stock = row.stock.Load()
	return p, true
}

func (r *ProductRepository) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := r.snapshot(id)
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	out := make(map[int64]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.snapshot(id); ok {
			out[id] = p
		}
	}
	return out, nil
}

// 初期在庫はp.Stockで渡す（シード用）
func (r *ProductRepository) Create(ctx context.Context, p model.Product) (model.Product, error) {
	if p.ID == 0 {
		p.ID = r.s.seqProduct.Add(1)
	} else {
		for {
			cur := r.s.seqProduct.Load()
			if p.ID <= cur || r.s.seqProduct.CompareAndSwap(cur, p.ID) {
				break
			}
		}
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now

	row := &productRow{p: p}
	row.p.Stock = 0
	row.stock.Store(p.Stock)

	r.s.productsMu.Lock()
	defer r.s.productsMu.Unlock()
	r.s.products[p.ID] = row
	return p, nil
}

func (r *ProductRepository) Update(ctx context.Context, p model.Product) error {
	r.s.productsMu.Lock()
	defer r.s.productsMu.Unlock()

	row, ok := r.s.products[p.ID]
	if !ok || row.p.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	prev := row.p
	row.p.Name = p.Name
	row.p.Description = p.Description
	row.p.Price = p.Price
	row.p.IsActive = p.IsActive
	row.p.UpdatedAt = r.s.now()

	r.t.onRollback(func() {
		r.s.productsMu.Lock()
		defer r.s.productsMu.Unlock()
		row.p = prev
	})
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	r.s.productsMu.Lock()
	defer r.s.productsMu.Unlock()

	row, ok := r.s.products[id]
	if !ok || row.p.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	prev := row.p.DeletedAt
	row.p.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}

	r.t.onRollback(func() {
		r.s.productsMu.Lock()
		defer r.s.productsMu.Unlock()
		row.p.DeletedAt = prev
	})
	return nil
}
