package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/event"
	"shopcheckout/internal/lock"
	"shopcheckout/internal/metrics"
	repo "shopcheckout/internal/repository"
)

const (
	maxOrderNumberAttempts     = 5
	maxIdempotencyKeyLen       = 255
	defaultLockTimeout         = 5 * time.Second
	defaultCompensationTimeout = 5 * time.Second
)

// IdempotencyCache は冪等キーの前段キャッシュ（redis）。nilなら使わない。
type IdempotencyCache interface {
	Get(ctx context.Context, userID int64, key string) (int64, bool, error)
	Put(ctx context.Context, userID int64, key string, orderID int64) error
}

type CheckoutDeps struct {
	Tx         repo.TransactionManager
	Orders     repo.OrderRepository
	Products   repo.ProductRepository
	Cart       *CartUsecase
	Ledger     *InventoryLedger
	Locker     lock.Locker
	Idempotent IdempotencyCache
	Publisher  event.Publisher
	Numbers    OrderNumberGenerator
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time

	ShippingFee         int64
	LockTimeout         time.Duration
	CompensationTimeout time.Duration
}

// CheckoutUsecase はカート明細から注文を作る（全部成功か、何も起きなかったか）。
// 引当は商品ID昇順、失敗時は逆順に戻す。
type CheckoutUsecase struct {
	d CheckoutDeps
}

func NewCheckoutUsecase(d CheckoutDeps) *CheckoutUsecase {
	if d.Locker == nil {
		d.Locker = lock.Local()
	}
	if d.Publisher == nil {
		d.Publisher = event.NopPublisher{}
	}
	if d.Numbers == nil {
		d.Numbers = RandomOrderNumbers{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LockTimeout <= 0 {
		d.LockTimeout = defaultLockTimeout
	}
	if d.CompensationTimeout <= 0 {
		d.CompensationTimeout = defaultCompensationTimeout
	}
	return &CheckoutUsecase{d: d}
}

type CheckoutInput struct {
	CartLineIDs     []int64
	ShippingAddress string
	ShippingPhone   string
	Note            string
	IdempotencyKey  string
}

type CheckoutResult struct {
	OrderID     int64             `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	TotalAmount int64             `json:"total_amount"`
	Status      model.OrderStatus `json:"status"`
	Replayed    bool              `json:"replayed"`
	Warnings    []Warning         `json:"warnings,omitempty"`
}

type reservation struct {
	productID int64
	qty       int64
}

func resultOf(o model.Order, replayed bool) CheckoutResult {
	return CheckoutResult{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
		Replayed:    replayed,
	}
}

func (u *CheckoutUsecase) Checkout(ctx context.Context, userID int64, in CheckoutInput) (CheckoutResult, error) {
	start := time.Now()
	res, err := u.checkout(ctx, userID, in)
	u.d.Metrics.ObserveCheckout(outcome(res, err), time.Since(start))
	return res, err
}

func outcome(res CheckoutResult, err error) string {
	if err == nil {
		if res.Replayed {
			return "replayed"
		}
		return "placed"
	}
	if ae, ok := AsAbortError(err); ok {
		return strings.ToLower(string(ae.Reason))
	}
	return "invalid"
}

func normalize(userID int64, in CheckoutInput) (CheckoutInput, error) {
	if userID <= 0 {
		return in, invalidInput("user id")
	}
	in.CartLineIDs = uniqueIDs(in.CartLineIDs)
	if len(in.CartLineIDs) == 0 {
		return in, invalidInput("no cart lines selected")
	}
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.ShippingPhone = strings.TrimSpace(in.ShippingPhone)
	in.Note = strings.TrimSpace(in.Note)
	if in.ShippingAddress == "" {
		return in, invalidInput("shipping address required")
	}
	if in.ShippingPhone == "" {
		return in, invalidInput("shipping phone required")
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.IdempotencyKey == "" || len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return in, invalidInput("invalid idempotency key")
	}
	return in, nil
}

func (u *CheckoutUsecase) checkout(ctx context.Context, userID int64, in CheckoutInput) (CheckoutResult, error) {
	in, err := normalize(userID, in)
	if err != nil {
		return CheckoutResult{}, err
	}
	log := u.d.Log.With("user_id", userID, "idempotency_key", in.IdempotencyKey)

	// 同じキーなら同じ結果
	if res, ok, err := u.replay(ctx, userID, in.IdempotencyKey, true); err != nil {
		return CheckoutResult{}, u.abort(log, AbortPersistence, err, 0, nil)
	} else if ok {
		return res, nil
	}

	// 同じユーザーのチェックアウトは直列（自分のカート変更を必ず見る）
	lockCtx, cancel := context.WithTimeout(ctx, u.d.LockTimeout)
	unlock, err := u.d.Locker.Lock(lockCtx, strconv.FormatInt(userID, 10))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return CheckoutResult{}, u.abort(log, AbortCancelled, errors.Join(ErrCancelled, ctx.Err()), 0, nil)
		}
		return CheckoutResult{}, u.abort(log, AbortPersistence, persistence("acquire checkout lock", err), 0, nil)
	}
	defer unlock()

	// 待っている間に同じキーの注文が確定しているかもしれない
	if res, ok, err := u.replay(ctx, userID, in.IdempotencyKey, false); err != nil {
		return CheckoutResult{}, u.abort(log, AbortPersistence, err, 0, nil)
	} else if ok {
		return res, nil
	}

	// 1. Fetch
	if err := ctx.Err(); err != nil {
		return CheckoutResult{}, u.abort(log, AbortCancelled, errors.Join(ErrCancelled, err), 0, nil)
	}
	lines, err := u.d.Cart.GetLines(ctx, userID, in.CartLineIDs)
	if err != nil {
		var missing *MissingLinesError
		if errors.As(err, &missing) {
			return CheckoutResult{}, u.abort(log, AbortLineVanished, err, 0, missing.IDs)
		}
		return CheckoutResult{}, u.abort(log, AbortPersistence, err, 0, nil)
	}

	// 2. Validate（在庫にはまだ触らない）
	if err := ctx.Err(); err != nil {
		return CheckoutResult{}, u.abort(log, AbortCancelled, errors.Join(ErrCancelled, err), 0, nil)
	}
	pairs, err := u.validate(ctx, lines)
	if err != nil {
		var ua *UnavailableError
		switch {
		case errors.As(err, &ua):
			return CheckoutResult{}, u.abort(log, AbortProductUnavailable, err, ua.ProductID, nil)
		case errors.Is(err, ErrInvalidQuantity):
			return CheckoutResult{}, u.abort(log, AbortInvalidQuantity, err, 0, nil)
		default:
			return CheckoutResult{}, u.abort(log, AbortPersistence, err, 0, nil)
		}
	}

	// 3. Reserve（商品ID昇順）
	ref := fmt.Sprintf("checkout:%d:%s", userID, in.IdempotencyKey)
	reserved := make([]reservation, 0, len(pairs))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			compErr := u.compensate(ctx, log, reserved, ref)
			return CheckoutResult{}, u.abort(log, AbortCancelled, errors.Join(ErrCancelled, err, compErr), 0, nil)
		}

		if err := u.d.Ledger.TryReserve(ctx, p.Line.ProductID, p.Line.Quantity, ref); err != nil {
			compErr := u.compensate(ctx, log, reserved, ref)
			reason := AbortPersistence
			switch {
			case errors.Is(err, ErrInsufficientStock):
				reason = AbortInsufficientStock
			case errors.Is(err, ErrProductUnavailable):
				reason = AbortProductUnavailable
			case errors.Is(err, ErrInvalidQuantity):
				reason = AbortInvalidQuantity
			case ctx.Err() != nil:
				reason = AbortCancelled
				err = errors.Join(ErrCancelled, err)
			}
			return CheckoutResult{}, u.abort(log, reason, errors.Join(err, compErr), p.Line.ProductID, nil)
		}
		reserved = append(reserved, reservation{productID: p.Line.ProductID, qty: p.Line.Quantity})
	}

	// 4. Assemble
	now := u.d.Now()
	order, items, err := AssembleOrder(AssemblyInput{
		UserID:          userID,
		Lines:           pairs,
		ShippingFee:     u.d.ShippingFee,
		ShippingAddress: in.ShippingAddress,
		ShippingPhone:   in.ShippingPhone,
		Note:            in.Note,
		Now:             now,
	})
	if err != nil {
		compErr := u.compensate(ctx, log, reserved, ref)
		return CheckoutResult{}, u.abort(log, AbortProductUnavailable, errors.Join(err, compErr), 0, nil)
	}
	order.IdempotencyKey = in.IdempotencyKey

	// ここまでならキャンセルを受け付ける
	if err := ctx.Err(); err != nil {
		compErr := u.compensate(ctx, log, reserved, ref)
		return CheckoutResult{}, u.abort(log, AbortCancelled, errors.Join(ErrCancelled, err, compErr), 0, nil)
	}

	// 5. Persist（ここから先はキャンセルしない）
	pctx := context.WithoutCancel(ctx)
	saved, twin, err := u.persist(pctx, order, items, now)
	if err != nil {
		compErr := u.compensate(pctx, log, reserved, ref)
		return CheckoutResult{}, u.abort(log, AbortPersistence, errors.Join(err, compErr), 0, nil)
	}
	if twin {
		// 同じキーの別リクエストが先に確定した。こちらの引当は戻す
		res := resultOf(saved, true)
		if compErr := u.compensate(pctx, log, reserved, ref); compErr != nil {
			res.Warnings = append(res.Warnings, Warning{Code: WarningStockReleaseFailed, Detail: compErr.Error()})
		}
		log.Info("checkout replayed after concurrent commit", "order_id", saved.ID)
		return res, nil
	}

	res := resultOf(saved, false)

	// 6. Consume（失敗しても注文は取り消さない）
	kept, err := u.d.Cart.ConsumeLines(pctx, userID, lines)
	if err != nil {
		u.d.Metrics.CartCleanupFailed()
		log.Warn("cart cleanup failed", "order_id", saved.ID, "line_ids", in.CartLineIDs, "err", err)
		res.Warnings = append(res.Warnings, Warning{Code: WarningCartCleanupFailed, Detail: err.Error()})
	} else if kept > 0 {
		log.Info("cart lines changed during checkout, remainder kept", "order_id", saved.ID, "kept_lines", kept)
	}

	u.afterCommit(pctx, log, saved, items, ref)
	log.Info("order placed", "order_id", saved.ID, "order_number", saved.OrderNumber, "total_amount", saved.TotalAmount)
	return res, nil
}

// replay はキャッシュ（使えるなら）→DBの順に確定済み注文を探す
func (u *CheckoutUsecase) replay(ctx context.Context, userID int64, key string, useCache bool) (CheckoutResult, bool, error) {
	if useCache && u.d.Idempotent != nil {
		id, ok, err := u.d.Idempotent.Get(ctx, userID, key)
		if err != nil {
			u.d.Log.Warn("idempotency cache unavailable", "user_id", userID, "err", err)
		} else if ok {
			o, err := u.d.Orders.FindByID(ctx, id)
			if err == nil && o.UserID == userID {
				return resultOf(o, true), true, nil
			}
		}
	}

	o, found, err := u.d.Orders.FindByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return CheckoutResult{}, false, persistence("find by idempotency key", err)
	}
	if !found {
		return CheckoutResult{}, false, nil
	}
	return resultOf(o, true), true, nil
}

// validate は商品を読み、公開中かを確かめる。商品ID昇順で返す
func (u *CheckoutUsecase) validate(ctx context.Context, lines []model.CartLine) ([]AssemblyLine, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := u.d.Products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, persistence("find products", err)
	}

	pairs := make([]AssemblyLine, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.IsActive {
			return nil, &UnavailableError{ProductID: l.ProductID}
		}
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		pairs = append(pairs, AssemblyLine{Line: l, Product: p})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Line.ProductID < pairs[j].Line.ProductID
	})
	return pairs, nil
}

// persist は注文ヘッダと明細を1トランザクションで書く。
// 注文番号の衝突は番号を変えて再試行、冪等キーの衝突は先行の注文を返す（twin=true）。
func (u *CheckoutUsecase) persist(ctx context.Context, order model.Order, items []model.OrderItem, now time.Time) (model.Order, bool, error) {
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = u.d.Numbers.Next(now)

		var saved model.Order
		err := u.d.Tx.WithinTx(ctx, func(r repo.TxRepos) error {
			o, err := r.Orders().Create(ctx, order)
			if err != nil {
				return err
			}
			if _, err := r.OrderItems().CreateBulk(ctx, o.ID, items); err != nil {
				return err
			}
			saved = o
			return nil
		})

		switch {
		case err == nil:
			return saved, false, nil
		case errors.Is(err, repo.ErrDuplicateOrderNumber):
			u.d.Log.Warn("order number collision", "order_number", order.OrderNumber, "attempt", attempt)
			continue
		case errors.Is(err, repo.ErrDuplicateIdempotencyKey):
			o, found, ferr := u.d.Orders.FindByIdempotencyKey(ctx, order.UserID, order.IdempotencyKey)
			if ferr != nil {
				return model.Order{}, false, persistence("find concurrent order", ferr)
			}
			if !found {
				return model.Order{}, false, persistence("persist order", err)
			}
			return o, true, nil
		default:
			return model.Order{}, false, persistence("persist order", err)
		}
	}
	return model.Order{}, false, persistence("persist order", fmt.Errorf("order number collided %d times", maxOrderNumberAttempts))
}

// compensate は引当を逆順に戻す。失敗は整合性アラームとしてログとメトリクスに残し、呼び出し元に返す
func (u *CheckoutUsecase) compensate(ctx context.Context, log *slog.Logger, reserved []reservation, ref string) error {
	if len(reserved) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.d.CompensationTimeout)
	defer cancel()

	var errs []error
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := u.d.Ledger.Release(cctx, r.productID, r.qty, ref); err != nil {
			u.d.Metrics.CompensationFailed()
			log.Error("stock release failed",
				"alarm", "consistency",
				"product_id", r.productID,
				"qty", r.qty,
				"ref", ref,
				"err", err,
			)
			errs = append(errs, fmt.Errorf("release product %d qty %d: %w", r.productID, r.qty, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCompensationFailed, errors.Join(errs...))
}

func (u *CheckoutUsecase) abort(log *slog.Logger, reason AbortReason, err error, productID int64, lineIDs []int64) error {
	ae := &AbortError{Reason: reason, ProductID: productID, LineIDs: lineIDs, Err: err}

	switch {
	case errors.Is(err, ErrCompensationFailed):
		log.Error("checkout aborted with unreleased stock", "alarm", "consistency", "reason", reason, "err", err)
	case reason == AbortPersistence || reason == AbortCancelled:
		log.Warn("checkout aborted", "reason", reason, "err", err)
	default:
		log.Info("checkout aborted", "reason", reason, "product_id", productID, "line_ids", lineIDs)
	}
	return ae
}

// afterCommit はイベント送出と冪等キャッシュ。どちらも失敗してよい
func (u *CheckoutUsecase) afterCommit(ctx context.Context, log *slog.Logger, o model.Order, items []model.OrderItem, ref string) {
	if u.d.Idempotent != nil {
		if err := u.d.Idempotent.Put(ctx, o.UserID, o.IdempotencyKey, o.ID); err != nil {
			log.Warn("idempotency cache put failed", "order_id", o.ID, "err", err)
		}
	}

	now := u.d.Now()
	qtys := make([]event.ItemQty, 0, len(items))
	for _, it := range items {
		qtys = append(qtys, event.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}

	orderKey := strconv.FormatInt(o.ID, 10)
	u.publish(ctx, log, event.TopicOrders, orderKey, event.TypeOrderPlaced, event.OrderPlacedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
		Items:       qtys,
	}, now)

	for _, it := range items {
		u.publish(ctx, log, event.TopicStock, strconv.FormatInt(it.ProductID, 10), event.TypeStockChanged, event.StockChangedPayload{
			ProductID: it.ProductID,
			Delta:     -it.Quantity,
			Reason:    string(model.AdjustmentReserve),
			Reference: ref,
		}, now)
	}
}

func (u *CheckoutUsecase) publish(ctx context.Context, log *slog.Logger, topic, key, typ string, payload any, now time.Time) {
	publishEvent(ctx, log, u.d.Publisher, topic, key, typ, payload, now)
}

func publishEvent(ctx context.Context, log *slog.Logger, p event.Publisher, topic, key, typ string, payload any, now time.Time) {
	env, err := event.New(typ, key, payload, now)
	if err == nil {
		err = p.Publish(ctx, topic, key, env)
	}
	if err != nil {
		log.Warn("event publish failed", "event_type", typ, "key", key, "err", err)
	}
}
