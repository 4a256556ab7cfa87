package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// 一意制約違反（orders.order_number）
	ErrDuplicateOrderNumber = errors.New("duplicate order number")

	// 一意制約違反（orders.user_id + idempotency_key）
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
