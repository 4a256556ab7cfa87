package repository

import (
	"context"
	"errors"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"

	"gorm.io/gorm"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 在庫が足りるときだけ減らす。
// 減算と仕訳は同じトランザクションで書く。
func (r *InventoryGormRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64, ref string) (bool, error) {
	ok := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Product{}).
			Where("id = ? AND stock >= ?", productID, qty).
			Update("stock", gorm.Expr("stock - ?", qty))
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			//在庫不足か商品なしかを区別
			var n int64
			if err := tx.Model(&model.Product{}).Where("id = ?", productID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return repo.ErrNotFound
			}
			return nil
		}

		ok = true
		return tx.Create(&model.InventoryAdjustment{
			ProductID: productID,
			Delta:     -qty,
			Reason:    model.AdjustmentReserve,
			Reference: ref,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// 在庫戻し（補償・キャンセル）
func (r *InventoryGormRepository) IncreaseStock(ctx context.Context, productID int64, qty int64, reason model.AdjustmentReason, ref string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Product{}).
			Where("id = ?", productID).
			Update("stock", gorm.Expr("stock + ?", qty))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repo.ErrNotFound
		}

		return tx.Create(&model.InventoryAdjustment{
			ProductID: productID,
			Delta:     qty,
			Reason:    reason,
			Reference: ref,
		}).Error
	})
}

func (r *InventoryGormRepository) GetStock(ctx context.Context, productID int64) (int64, error) {
	var p model.Product
	err := r.db.WithContext(ctx).
		Select("id", "stock").
		Where("id = ?", productID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, repo.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

func (r *InventoryGormRepository) ListAdjustments(ctx context.Context, productID int64) ([]model.InventoryAdjustment, error) {
	var adjs []model.InventoryAdjustment
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id asc").
		Find(&adjs).Error; err != nil {
		return nil, err
	}
	return adjs, nil
}
