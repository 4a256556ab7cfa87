package memory

import (
	"context"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"
)

// InventoryRepository は商品単位のロックで判定と減算をまとめる。
// 全体ロックは取らないので、別商品の引当は並行に進む。
type InventoryRepository struct {
	s *Store
	t *tx
}

// lockProduct はトランザクション中ならコミットまでロックを持ち続ける
func (r *InventoryRepository) lockProduct(ctx context.Context, productID int64) (func(), error) {
	if r.t != nil {
		if _, ok := r.t.held[productID]; ok {
			return func() {}, nil
		}
	}

	unlock, err := r.s.stockLocks.LockKey(ctx, productID)
	if err != nil {
		return nil, err
	}
	if r.t != nil {
		r.t.held[productID] = unlock
		return func() {}, nil
	}
	return unlock, nil
}

func (r *InventoryRepository) appendJournal(productID, delta int64, reason model.AdjustmentReason, ref string) {
	adj := model.InventoryAdjustment{
		ID:        r.s.seqAdj.Add(1),
		ProductID: productID,
		Delta:     delta,
		Reason:    reason,
		Reference: ref,
		CreatedAt: r.s.now(),
	}

	r.s.journalMu.Lock()
	r.s.journal = append(r.s.journal, adj)
	r.s.journalMu.Unlock()

	r.t.onRollback(func() {
		r.s.journalMu.Lock()
		defer r.s.journalMu.Unlock()
		for i := len(r.s.journal) - 1; i >= 0; i-- {
			if r.s.journal[i].ID == adj.ID {
				r.s.journal = append(r.s.journal[:i], r.s.journal[i+1:]...)
				return
			}
		}
	})
}

func (r *InventoryRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64, ref string) (bool, error) {
	row, ok := (&ProductRepository{s: r.s}).row(productID)
	if !ok {
		return false, repo.ErrNotFound
	}

	unlock, err := r.lockProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	defer unlock()

	if row.stock.Load() < qty {
		return false, nil
	}
	row.stock.Add(-qty)
	r.t.onRollback(func() { row.stock.Add(qty) })

	r.appendJournal(productID, -qty, model.AdjustmentReserve, ref)
	return true, nil
}

func (r *InventoryRepository) IncreaseStock(ctx context.Context, productID int64, qty int64, reason model.AdjustmentReason, ref string) error {
	row, ok := (&ProductRepository{s: r.s}).row(productID)
	if !ok {
		return repo.ErrNotFound
	}

	unlock, err := r.lockProduct(ctx, productID)
	if err != nil {
		return err
	}
	defer unlock()

	row.stock.Add(qty)
	r.t.onRollback(func() { row.stock.Add(-qty) })

	r.appendJournal(productID, qty, reason, ref)
	return nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, productID int64) (int64, error) {
	row, ok := (&ProductRepository{s: r.s}).row(productID)
	if !ok {
		return 0, repo.ErrNotFound
	}
	return row.stock.Load(), nil
}

func (r *InventoryRepository) ListAdjustments(ctx context.Context, productID int64) ([]model.InventoryAdjustment, error) {
	defer r.s.view(r.t)()

	r.s.journalMu.Lock()
	defer r.s.journalMu.Unlock()

	out := []model.InventoryAdjustment{}
	for _, adj := range r.s.journal {
		if adj.ProductID == productID {
			out = append(out, adj)
		}
	}
	return out, nil
}
