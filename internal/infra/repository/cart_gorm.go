package repository

import (
	"context"
	"errors"
	"time"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// カート明細を一覧取得（追加順）
func (r *CartGormRepository) ListByUserID(ctx context.Context, userID int64) ([]model.CartLine, error) {
	var lines []model.CartLine

	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id asc").
		Find(&lines).Error; err != nil {
		return []model.CartLine{}, err
	}

	return lines, nil
}

// 他人の明細はuser_idで弾かれる
func (r *CartGormRepository) FindByIDs(ctx context.Context, userID int64, lineIDs []int64) ([]model.CartLine, error) {
	if len(lineIDs) == 0 {
		return []model.CartLine{}, nil
	}

	var lines []model.CartLine
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, lineIDs).
		Order("id asc").
		Find(&lines).Error; err != nil {
		return []model.CartLine{}, err
	}
	return lines, nil
}

// 同一商品は数量加算
func (r *CartGormRepository) UpsertByUserAndProduct(ctx context.Context, userID int64, productID int64, addQty int64) (model.CartLine, error) {
	var out model.CartLine

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var line model.CartLine

		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND product_id = ?", userID, productID).
			First(&line).Error

		if err == nil {
			// 既存ありだったら数量を増やす
			line.Quantity += addQty
			res := tx.Model(&model.CartLine{}).
				Where("id = ?", line.ID).
				Update("quantity", line.Quantity)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return repo.ErrNotFound
			}
			out = line
			return nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		//無い場合は新規作成
		now := time.Now()
		newLine := model.CartLine{
			UserID:    userID,
			ProductID: productID,
			Quantity:  addQty,
			AddedAt:   now,
			UpdatedAt: now,
		}
		if err := tx.Create(&newLine).Error; err != nil {
			return err
		}
		out = newLine
		return nil
	})
	if err != nil {
		return model.CartLine{}, err
	}
	return out, nil
}

// 明細の数量を更新
func (r *CartGormRepository) UpdateQuantity(ctx context.Context, userID int64, lineID int64, qty int64) (model.CartLine, error) {
	res := r.db.WithContext(ctx).
		Model(&model.CartLine{}).
		Where("id = ? AND user_id = ?", lineID, userID).
		Update("quantity", qty)

	if res.Error != nil {
		return model.CartLine{}, res.Error
	}
	if res.RowsAffected == 0 {
		return model.CartLine{}, repo.ErrNotFound
	}

	var line model.CartLine
	if err := r.db.WithContext(ctx).Where("id = ?", lineID).First(&line).Error; err != nil {
		if isNotFound(err) {
			return model.CartLine{}, repo.ErrNotFound
		}
		return model.CartLine{}, err
	}
	return line, nil
}

// 無いIDは無視（削除済みでも成功扱い）
func (r *CartGormRepository) DeleteByIDs(ctx context.Context, userID int64, lineIDs []int64) (int64, error) {
	if len(lineIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, lineIDs).
		Delete(&model.CartLine{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *CartGormRepository) DeleteByUserID(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.CartLine{}).Error
}

// 行ロックを取ってから引く（別端末の数量変更と交差しても差分は残る）
func (r *CartGormRepository) ConsumeLines(ctx context.Context, userID int64, used []model.CartLine) (int64, error) {
	if len(used) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(used))
	for _, u := range used {
		ids = append(ids, u.ID)
	}

	var kept int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []model.CartLine
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND id IN ?", userID, ids).
			Find(&current).Error; err != nil {
			return err
		}
		byID := make(map[int64]model.CartLine, len(current))
		for _, l := range current {
			byID[l.ID] = l
		}

		for _, u := range used {
			l, ok := byID[u.ID]
			if !ok {
				continue
			}
			if l.Quantity <= u.Quantity {
				if err := tx.Delete(&model.CartLine{}, l.ID).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Model(&model.CartLine{}).
				Where("id = ?", l.ID).
				Update("quantity", gorm.Expr("quantity - ?", u.Quantity)).Error; err != nil {
				return err
			}
			kept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return kept, nil
}
