package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/event"
	"shopcheckout/internal/metrics"
	repo "shopcheckout/internal/repository"
)

// OrderStatusUsecase は注文ステータスの遷移（CANCELLEDなら在庫戻し）。
type OrderStatusUsecase struct {
	tx        repo.TransactionManager
	ledger    *InventoryLedger
	publisher event.Publisher
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOrderStatusUsecase(tx repo.TransactionManager, ledger *InventoryLedger, publisher event.Publisher, log *slog.Logger, m *metrics.Metrics) *OrderStatusUsecase {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &OrderStatusUsecase{tx: tx, ledger: ledger, publisher: publisher, log: log, metrics: m, now: time.Now}
}

// 1注文あたりの監査ログは遷移回数ぶんしか無い
const historyLimit = 200

type statusSnapshot struct {
	Status model.OrderStatus `json:"status"`
}

type restockSnapshot struct {
	Items []event.ItemQty `json:"items"`
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UpdateOrderStatus は管理者用。同じステータスへの更新は何もせず成功。
func (u *OrderStatusUsecase) UpdateOrderStatus(ctx context.Context, actorID int64, orderID int64, newStatus model.OrderStatus) (model.Order, error) {
	return u.update(ctx, actorID, orderID, newStatus, false)
}

// CancelMyOrder は注文者本人のキャンセル。他人の注文は存在しない扱い。
func (u *OrderStatusUsecase) CancelMyOrder(ctx context.Context, userID int64, orderID int64) (model.Order, error) {
	return u.update(ctx, userID, orderID, model.OrderStatusCancelled, true)
}

func (u *OrderStatusUsecase) update(ctx context.Context, actorID int64, orderID int64, newStatus model.OrderStatus, ownerOnly bool) (model.Order, error) {
	if actorID <= 0 {
		return model.Order{}, invalidInput("actor id")
	}
	if orderID <= 0 {
		return model.Order{}, invalidInput("order id")
	}
	if _, ok := model.ParseOrderStatus(string(newStatus)); !ok {
		return model.Order{}, invalidInput("unknown status " + string(newStatus))
	}

	var (
		out      model.Order
		from     model.OrderStatus
		restored []event.ItemQty
		changed  bool
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 注文取得
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("order %d: %w", orderID, repo.ErrNotFound)
		}
		if err != nil {
			return persistence("find order", err)
		}
		if ownerOnly && o.UserID != actorID {
			//他人の注文は「存在しない扱い」にする
			return fmt.Errorf("order %d: %w", orderID, repo.ErrNotFound)
		}

		// すでに同じなら何もしない
		if o.Status == newStatus {
			out = o
			return nil
		}
		if !model.CanTransition(o.Status, newStatus) {
			return &TransitionError{From: o.Status, To: newStatus}
		}

		now := u.now()
		ok, err := r.Orders().UpdateStatusIf(ctx, o.ID, o.Status, newStatus, now)
		if err != nil {
			return persistence("update order status", err)
		}
		if !ok {
			return ErrStatusConflict
		}

		// CANCELLEDのときだけ在庫戻し（同じトランザクション）
		if newStatus == model.OrderStatusCancelled {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return persistence("list order items", err)
			}

			ledger := u.ledger.Within(r.Inventory())
			ref := "order:" + o.OrderNumber
			for _, it := range items {
				err := ledger.Restock(ctx, it.ProductID, it.Quantity, ref)
				if errors.Is(err, repo.ErrNotFound) {
					// 商品ごと消えている。戻し先が無い
					u.log.Warn("restock skipped for missing product", "order_id", o.ID, "product_id", it.ProductID)
					continue
				}
				if err != nil {
					return err
				}
				restored = append(restored, event.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
			}

			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				ActorUserID:  actorID,
				Action:       model.AuditActionRestock,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   o.ID,
				AfterJSON:    mustJSON(restockSnapshot{Items: restored}),
				CreatedAt:    now,
			}); err != nil {
				return persistence("write audit log", err)
			}
		}

		//監査ログ（UPDATE_ORDER_STATUS）
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   mustJSON(statusSnapshot{Status: o.Status}),
			AfterJSON:    mustJSON(statusSnapshot{Status: newStatus}),
			CreatedAt:    now,
		}); err != nil {
			return persistence("write audit log", err)
		}

		from = o.Status
		o.Status = newStatus
		o.UpdatedAt = now
		out = o
		changed = true
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}

	if changed {
		u.metrics.StatusChanged(string(from), string(newStatus))
		u.log.Info("order status changed", "order_id", out.ID, "from", from, "to", newStatus, "actor_user_id", actorID)
		u.afterCommit(ctx, out, from, actorID, restored)
	}
	return out, nil
}

func (u *OrderStatusUsecase) afterCommit(ctx context.Context, o model.Order, from model.OrderStatus, actorID int64, restored []event.ItemQty) {
	pctx := context.WithoutCancel(ctx)
	now := u.now()

	publishEvent(pctx, u.log, u.publisher, event.TopicOrders, strconv.FormatInt(o.ID, 10), event.TypeOrderStatusChanged, event.OrderStatusChangedPayload{
		OrderID:     o.ID,
		From:        string(from),
		To:          string(o.Status),
		ActorUserID: actorID,
	}, now)

	for _, it := range restored {
		publishEvent(pctx, u.log, u.publisher, event.TopicStock, strconv.FormatInt(it.ProductID, 10), event.TypeStockChanged, event.StockChangedPayload{
			ProductID: it.ProductID,
			Delta:     it.Qty,
			Reason:    string(model.AdjustmentRestock),
			Reference: "order:" + o.OrderNumber,
		}, now)
	}
}

// History は注文に残った監査ログ（新しい順）。注文が無ければErrNotFound。
func (u *OrderStatusUsecase) History(ctx context.Context, orderID int64) ([]model.AuditLog, error) {
	if orderID <= 0 {
		return nil, invalidInput("order id")
	}

	var out []model.AuditLog
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("order %d: %w", orderID, repo.ErrNotFound)
			}
			return persistence("find order", err)
		}

		resource := model.AuditResourceOrder
		logs, err := r.AuditLogs().List(ctx, repo.AuditLogFilter{
			ResourceType: &resource,
			ResourceID:   &orderID,
			Limit:        historyLimit,
		})
		if err != nil {
			return persistence("list audit logs", err)
		}
		out = logs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
