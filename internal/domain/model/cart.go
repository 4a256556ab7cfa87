package model

import "time"

// カート明細。(user_id, product_id)で一意。
// ユーザーのカート = そのuser_idの明細の集合。
type CartLine struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:ux_cart_lines_user_product,priority:1" json:"user_id"`
	ProductID int64     `gorm:"not null;uniqueIndex:ux_cart_lines_user_product,priority:2;index" json:"product_id"`
	Quantity  int64     `gorm:"not null;check:quantity > 0" json:"quantity"`
	AddedAt   time.Time `gorm:"not null" json:"added_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (CartLine) TableName() string { return "cart_lines" }
