package model

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ParseOrderStatus は文字列をOrderStatusに変換する（大文字小文字は無視）。
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// 注文ヘッダ。作成後に変わるのはstatus(とupdated_at)だけ。
type Order struct {
	ID              int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64       `gorm:"not null;index;uniqueIndex:ux_orders_user_idem,priority:1" json:"user_id"`
	OrderNumber     string      `gorm:"type:varchar(32);not null;uniqueIndex:ux_orders_order_number" json:"order_number"`
	Subtotal        int64       `gorm:"not null" json:"subtotal"`
	ShippingFee     int64       `gorm:"not null" json:"shipping_fee"`
	TotalAmount     int64       `gorm:"not null" json:"total_amount"`
	Status          OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ShippingAddress string      `gorm:"type:varchar(500);not null" json:"shipping_address"`
	ShippingPhone   string      `gorm:"type:varchar(30);not null" json:"shipping_phone"`
	Note            string      `gorm:"type:text" json:"note"`
	IdempotencyKey  string      `gorm:"type:varchar(255);not null;uniqueIndex:ux_orders_user_idem,priority:2" json:"-"`
	CreatedAt       time.Time   `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"not null" json:"updated_at"`
}

// 許可される遷移。DELIVERED/CANCELLEDは終端。
var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:    {OrderStatusProcessing: true, OrderStatusCancelled: true},
	OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true},
	OrderStatusShipped:    {OrderStatusDelivered: true},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// IsTerminal は以後どこにも遷移できない状態か。
func (s OrderStatus) IsTerminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}
