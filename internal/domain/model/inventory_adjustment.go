package model

import "time"

type AdjustmentReason string

const (
	// チェックアウトでの引当
	AdjustmentReserve AdjustmentReason = "RESERVE"
	// 引当の取り消し（補償）
	AdjustmentRelease AdjustmentReason = "RELEASE"
	// 注文キャンセルによる在庫戻し
	AdjustmentRestock AdjustmentReason = "RESTOCK"
)

// 在庫台帳の仕訳。stock更新と同じトランザクションで1行残す。
type InventoryAdjustment struct {
	ID        int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64            `gorm:"not null;index" json:"product_id"`
	Delta     int64            `gorm:"not null" json:"delta"`
	Reason    AdjustmentReason `gorm:"type:varchar(20);not null" json:"reason"`
	Reference string           `gorm:"type:varchar(255);not null;index" json:"reference"`
	CreatedAt time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
}
