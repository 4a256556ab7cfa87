package model

import "time"

// 注文明細。価格と商品名は注文時点のスナップショット（商品の後の変更は反映しない）。
type OrderItem struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64     `gorm:"not null;index" json:"order_id"`
	ProductID   int64     `gorm:"not null;index" json:"product_id"`
	ProductName string    `gorm:"type:varchar(255);not null;column:product_name_snapshot" json:"product_name"`
	Price       int64     `gorm:"not null;column:unit_price_snapshot" json:"price"`
	Quantity    int64     `gorm:"not null" json:"quantity"`
	Subtotal    int64     `gorm:"not null" json:"subtotal"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}
