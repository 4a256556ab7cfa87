package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeOrderPlaced        = "OrderPlaced"
	TypeOrderStatusChanged = "OrderStatusChanged"
	TypeStockChanged       = "StockChanged"
)

const (
	TopicOrders = "shop.orders"
	TopicStock  = "shop.stock"
)

const producerName = "shopcheckout"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // 注文IDか商品ID
	Payload       json.RawMessage `json:"payload"`
}

func New(eventType string, correlationID string, payload any, now time.Time) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now.UTC(),
		Producer:      producerName,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// ---- Payload ----

type ItemQty struct {
	ProductID int64 `json:"product_id"`
	Qty       int64 `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      int64     `json:"user_id"`
	TotalAmount int64     `json:"total_amount"`
	Items       []ItemQty `json:"items"`
}

type OrderStatusChangedPayload struct {
	OrderID     int64  `json:"order_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	ActorUserID int64  `json:"actor_user_id"`
}

type StockChangedPayload struct {
	ProductID int64  `json:"product_id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

// Publisher はコミット後のイベント送出。失敗してもコミットは取り消さない。
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, Envelope) error { return nil }
