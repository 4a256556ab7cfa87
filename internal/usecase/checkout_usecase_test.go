package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/event"
	"shopcheckout/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func requireAbort(t *testing.T, err error, reason usecase.AbortReason) *usecase.AbortError {
	t.Helper()
	require.Error(t, err)
	ae, ok := usecase.AsAbortError(err)
	require.True(t, ok, "not an abort error: %v", err)
	assert.Equal(t, reason, ae.Reason)
	return ae
}

// =====================
// 正常系
// =====================

// 2商品の注文：在庫が減り、明細はスナップショット、カートは空
func TestCheckout_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedProduct(t, "A", 1000, 10, true)
	b := f.seedProduct(t, "B", 250, 5, true)
	l1 := f.addLine(t, 1, b.ID, 2)
	l2 := f.addLine(t, 1, a.ID, 3)

	res, err := f.checkout.Checkout(ctx, 1, input("k-1", l1, l2))
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, model.OrderStatusPending, res.Status)
	assert.Equal(t, int64(3000+500+testShippingFee), res.TotalAmount)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{10}$`, res.OrderNumber)

	assert.Equal(t, int64(7), f.stock(t, a.ID))
	assert.Equal(t, int64(3), f.stock(t, b.ID))
	assert.Equal(t, 0, f.cartLen(t, 1))

	detail, err := f.query.GetMyOrderDetail(ctx, 1, res.OrderID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 2)
	// 商品ID昇順
	assert.Equal(t, a.ID, detail.Items[0].ProductID)
	assert.Equal(t, int64(3000), detail.Items[0].Subtotal)
	assert.Equal(t, b.ID, detail.Items[1].ProductID)
	assert.Equal(t, int64(3500), detail.Subtotal)
	assert.Equal(t, int64(testShippingFee), detail.ShippingFee)

	assert.Equal(t, []string{event.TypeOrderPlaced, event.TypeStockChanged, event.TypeStockChanged}, f.pub.types())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("placed")))
}

// カートの一部だけ注文できる（残りは残る）
func TestCheckout_SubsetLeavesOtherLines(t *testing.T) {
	f := newFixture(t)
	a := f.seedProduct(t, "A", 100, 10, true)
	b := f.seedProduct(t, "B", 100, 10, true)
	l1 := f.addLine(t, 1, a.ID, 1)
	f.addLine(t, 1, b.ID, 1)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", l1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.cartLen(t, 1))
	assert.Equal(t, int64(10), f.stock(t, b.ID))
}

// 注文後に商品価格が変わっても明細は変わらない
func TestCheckout_PriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 1200, 5, true)
	l := f.addLine(t, 1, p.ID, 2)

	res, err := f.checkout.Checkout(ctx, 1, input("k", l))
	require.NoError(t, err)

	p.Price = 9999
	p.Name = "renamed"
	require.NoError(t, f.store.Products().Update(ctx, p))

	detail, err := f.query.GetOrderDetail(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, int64(1200), detail.Items[0].Price)
	assert.Equal(t, "A", detail.Items[0].Name)
	assert.Equal(t, int64(2400+testShippingFee), detail.TotalAmount)
}

// =====================
// 冪等
// =====================

// 同じキーの再送は同じ注文を返し、在庫は1回しか減らない
func TestCheckout_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 4)

	first, err := f.checkout.Checkout(ctx, 1, input("same", l))
	require.NoError(t, err)

	// 明細はもう無いがLINE_VANISHEDにはならない
	second, err := f.checkout.Checkout(ctx, 1, input("same", l))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, int64(6), f.stock(t, p.ID))
	assert.Equal(t, int64(1), f.orderCount(t))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("replayed")))
}

// キーはユーザーごと
func TestCheckout_SameKeyDifferentUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)
	l1 := f.addLine(t, 1, p.ID, 1)
	l2 := f.addLine(t, 2, p.ID, 1)

	r1, err := f.checkout.Checkout(ctx, 1, input("k", l1))
	require.NoError(t, err)
	r2, err := f.checkout.Checkout(ctx, 2, input("k", l2))
	require.NoError(t, err)

	assert.NotEqual(t, r1.OrderID, r2.OrderID)
	assert.False(t, r2.Replayed)
}

// 同じキーの別リクエストが先にコミットした：こちらの引当は戻し、先行注文を返す
func TestCheckout_ConcurrentTwinReturnsWinner(t *testing.T) {
	hidden := &hidingOrders{}
	f := newFixture(t, func(f *fixture) {
		hidden.OrderRepository = f.orders
		f.orders = hidden
	})
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 3)

	winner, err := f.store.Orders().Create(ctx, model.Order{
		UserID: 1, OrderNumber: "ORD-20260101-AAAAAAAAAA", IdempotencyKey: "twin",
		Status: model.OrderStatusPending, TotalAmount: 900,
	})
	require.NoError(t, err)
	// 事前の2回の確認をすり抜けさせる
	hidden.hide.Store(2)

	res, err := f.checkout.Checkout(ctx, 1, input("twin", l))
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, winner.ID, res.OrderID)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(10), f.stock(t, p.ID))
	// カートは触らない
	assert.Equal(t, 1, f.cartLen(t, 1))
}

// =====================
// 中断（何も残さない）
// =====================

// 明細が消えていたら在庫に触らない
func TestCheckout_LineVanished(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", l, 9999))
	ae := requireAbort(t, err, usecase.AbortLineVanished)
	assert.Equal(t, []int64{9999}, ae.LineIDs)
	assert.ErrorIs(t, err, usecase.ErrLineVanished)

	assert.Equal(t, int64(10), f.stock(t, p.ID))
	assert.Equal(t, 1, f.cartLen(t, 1))
	assert.Equal(t, int64(0), f.orderCount(t))
}

// 他人の明細IDは見えない
func TestCheckout_OtherUsersLineIsVanished(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, true)
	other := f.addLine(t, 2, p.ID, 1)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", other))
	requireAbort(t, err, usecase.AbortLineVanished)
	assert.Equal(t, 1, f.cartLen(t, 2))
}

func TestCheckout_ProductUnavailable(t *testing.T) {
	f := newFixture(t)
	a := f.seedProduct(t, "A", 100, 10, true)
	off := f.seedProduct(t, "B", 100, 10, false)
	l1 := f.addLine(t, 1, a.ID, 1)
	l2 := f.addLine(t, 1, off.ID, 1)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", l1, l2))
	ae := requireAbort(t, err, usecase.AbortProductUnavailable)
	assert.Equal(t, off.ID, ae.ProductID)
	assert.ErrorIs(t, err, usecase.ErrProductUnavailable)

	assert.Equal(t, int64(10), f.stock(t, a.ID))
	assert.Equal(t, 2, f.cartLen(t, 1))
}

// 2つ目の商品で在庫不足：1つ目の引当は戻る
func TestCheckout_InsufficientStockReleasesEarlierReservations(t *testing.T) {
	f := newFixture(t)
	a := f.seedProduct(t, "A", 100, 10, true)
	b := f.seedProduct(t, "B", 100, 1, true)
	l1 := f.addLine(t, 1, a.ID, 4)
	l2 := f.addLine(t, 1, b.ID, 2)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", l1, l2))
	ae := requireAbort(t, err, usecase.AbortInsufficientStock)
	assert.Equal(t, b.ID, ae.ProductID)
	assert.ErrorIs(t, err, usecase.ErrInsufficientStock)
	assert.NotErrorIs(t, err, usecase.ErrCompensationFailed)

	assert.Equal(t, int64(10), f.stock(t, a.ID))
	assert.Equal(t, int64(1), f.stock(t, b.ID))
	assert.Equal(t, 2, f.cartLen(t, 1))
	assert.Equal(t, int64(0), f.orderCount(t))

	adjs, err := f.store.Inventory().ListAdjustments(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	assert.Equal(t, int64(0), adjs[0].Delta+adjs[1].Delta)
}

// 保存に失敗したら引当を戻し、カートはそのまま
func TestCheckout_PersistFailureReleases(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.tx = &hookTx{inner: f.tx, err: errInjected}
	})
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 3)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", l))
	requireAbort(t, err, usecase.AbortPersistence)
	assert.ErrorIs(t, err, usecase.ErrPersistence)
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, int64(10), f.stock(t, p.ID))
	assert.Equal(t, 1, f.cartLen(t, 1))
	assert.Empty(t, f.pub.types())
}

// 読み取り後に別端末で数量を増やしても、増えた分はカートに残る
func TestCheckout_CartEditDuringCheckoutKeepsRemainder(t *testing.T) {
	ctx := context.Background()
	var (
		f    *fixture
		line int64
	)
	f = newFixture(t, func(fx *fixture) {
		fx.inv = &faultyInventory{InventoryRepository: fx.inv, afterFirstReserve: func() {
			_, err := f.store.Carts().UpdateQuantity(ctx, 1, line, 5)
			require.NoError(t, err)
		}}
	})
	p := f.seedProduct(t, "A", 100, 10, true)
	line = f.addLine(t, 1, p.ID, 2)

	res, err := f.checkout.Checkout(ctx, 1, input("k", line))
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	detail, err := f.query.GetOrderDetail(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, int64(2), detail.Items[0].Quantity)

	lines, err := f.store.Carts().ListByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, line, lines[0].ID)
	assert.Equal(t, int64(3), lines[0].Quantity)
}

// 引当中にキャンセルされたら戻して CANCELLED
func TestCheckout_CancelledDuringReserve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, func(f *fixture) {
		f.inv = &faultyInventory{InventoryRepository: f.inv, afterFirstReserve: cancel}
	})
	a := f.seedProduct(t, "A", 100, 10, true)
	b := f.seedProduct(t, "B", 100, 10, true)
	l1 := f.addLine(t, 1, a.ID, 2)
	l2 := f.addLine(t, 1, b.ID, 2)

	_, err := f.checkout.Checkout(ctx, 1, input("k", l1, l2))
	requireAbort(t, err, usecase.AbortCancelled)
	assert.ErrorIs(t, err, usecase.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	// キャンセル後でも戻しは走る
	assert.Equal(t, int64(10), f.stock(t, a.ID))
	assert.Equal(t, int64(10), f.stock(t, b.ID))
	assert.Equal(t, int64(0), f.orderCount(t))
}

// 最初からキャンセル済み
func TestCheckout_AlreadyCancelled(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.checkout.Checkout(ctx, 1, input("k", l))
	requireAbort(t, err, usecase.AbortCancelled)
	assert.Equal(t, int64(10), f.stock(t, p.ID))
}

// 戻しにも失敗したら整合性アラーム（エラーとメトリクス）
func TestCheckout_ReleaseFailureRaisesAlarm(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.inv = &faultyInventory{InventoryRepository: f.inv, failRelease: true}
	})
	a := f.seedProduct(t, "A", 100, 10, true)
	b := f.seedProduct(t, "B", 100, 0, true)
	l1 := f.addLine(t, 1, a.ID, 2)
	l2 := f.addLine(t, 1, b.ID, 1)

	_, err := f.checkout.Checkout(context.Background(), 1, input("k", l1, l2))
	requireAbort(t, err, usecase.AbortInsufficientStock)
	assert.ErrorIs(t, err, usecase.ErrInsufficientStock)
	assert.ErrorIs(t, err, usecase.ErrCompensationFailed)

	assert.Equal(t, int64(8), f.stock(t, a.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CompensationFailures))
}

// =====================
// 後片付けの失敗（注文は成功）
// =====================

func TestCheckout_CartCleanupFailureIsWarning(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.carts = &faultyCarts{CartRepository: f.carts, deleteErr: errInjected}
	})
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	res, err := f.checkout.Checkout(context.Background(), 1, input("k", l))
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, usecase.WarningCartCleanupFailed, res.Warnings[0].Code)
	assert.Equal(t, int64(9), f.stock(t, p.ID))
	assert.Equal(t, 1, f.cartLen(t, 1))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CartCleanupFailures))
}

// =====================
// 入力
// =====================

func TestCheckout_InvalidInput(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	cases := map[string]usecase.CheckoutInput{
		"no lines":   input("k"),
		"no key":     input("", l),
		"no address": {CartLineIDs: []int64{l}, ShippingPhone: "03", IdempotencyKey: "k"},
		"no phone":   {CartLineIDs: []int64{l}, ShippingAddress: "x", IdempotencyKey: "k"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.checkout.Checkout(context.Background(), 1, in)
			assert.ErrorIs(t, err, usecase.ErrInvalidInput)
			_, isAbort := usecase.AsAbortError(err)
			assert.False(t, isAbort)
		})
	}
	assert.Equal(t, int64(10), f.stock(t, p.ID))
}

// =====================
// 並行
// =====================

// 在庫1を2人が同時に：片方だけ成功
func TestCheckout_LastUnitGoesToExactlyOne(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 1, true)
	l1 := f.addLine(t, 1, p.ID, 1)
	l2 := f.addLine(t, 2, p.ID, 1)

	var (
		mu      sync.Mutex
		placed  int
		refused int
	)
	var g errgroup.Group
	for _, c := range []struct{ user, line int64 }{{1, l1}, {2, l2}} {
		g.Go(func() error {
			_, err := f.checkout.Checkout(context.Background(), c.user, input("k", c.line))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, usecase.ErrInsufficientStock):
				refused++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, refused)
	assert.Equal(t, int64(0), f.stock(t, p.ID))
	assert.Equal(t, int64(1), f.orderCount(t))
}

// 多数の同時注文：売り越さず、注文番号は全部違う
func TestCheckout_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 30, true)

	const users = 50
	lines := make(map[int64]int64, users)
	for u := int64(1); u <= users; u++ {
		lines[u] = f.addLine(t, u, p.ID, 1)
	}

	var (
		mu      sync.Mutex
		numbers = map[string]bool{}
	)
	var g errgroup.Group
	for u := int64(1); u <= users; u++ {
		g.Go(func() error {
			res, err := f.checkout.Checkout(context.Background(), u, input("k", lines[u]))
			if errors.Is(err, usecase.ErrInsufficientStock) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			numbers[res.OrderNumber] = true
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, numbers, 30)
	assert.Equal(t, int64(0), f.stock(t, p.ID))
	assert.Equal(t, int64(30), f.orderCount(t))
}

// 同じユーザーが同じキーで同時に：注文は1件
func TestCheckout_ConcurrentSameKeyPlacesOnce(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 2)

	results := make([]usecase.CheckoutResult, 5)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			res, err := f.checkout.Checkout(context.Background(), 1, input("same", l))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	replayed := 0
	for _, r := range results {
		assert.Equal(t, results[0].OrderID, r.OrderID)
		if r.Replayed {
			replayed++
		}
	}
	assert.Equal(t, 4, replayed)
	assert.Equal(t, int64(8), f.stock(t, p.ID))

	_, found, err := f.store.Orders().FindByIdempotencyKey(context.Background(), 1, "same")
	require.NoError(t, err)
	assert.True(t, found)
}

// =====================
// 注文番号の衝突
// =====================

type fixedNumbers struct {
	mu   sync.Mutex
	next []string
}

func (g *fixedNumbers) Next(time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.next[0]
	if len(g.next) > 1 {
		g.next = g.next[1:]
	}
	return n
}

func TestCheckout_RetriesOnOrderNumberCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)

	_, err := f.store.Orders().Create(ctx, model.Order{
		UserID: 99, OrderNumber: "ORD-20260101-0000000001", IdempotencyKey: "x", Status: model.OrderStatusPending,
	})
	require.NoError(t, err)

	uc := usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:       f.tx,
		Orders:   f.orders,
		Products: f.store.Products(),
		Cart:     f.cart,
		Ledger:   f.ledger,
		Numbers:  &fixedNumbers{next: []string{"ORD-20260101-0000000001", "ORD-20260101-0000000002"}},
	})

	l := f.addLine(t, 1, p.ID, 1)
	res, err := uc.Checkout(ctx, 1, input("k", l))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260101-0000000002", res.OrderNumber)
	assert.Equal(t, int64(9), f.stock(t, p.ID))
}

// 何度やっても衝突するなら保存失敗として戻す
func TestCheckout_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)

	_, err := f.store.Orders().Create(ctx, model.Order{
		UserID: 99, OrderNumber: "ORD-20260101-0000000001", IdempotencyKey: "x", Status: model.OrderStatusPending,
	})
	require.NoError(t, err)

	uc := usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:       f.tx,
		Orders:   f.orders,
		Products: f.store.Products(),
		Cart:     f.cart,
		Ledger:   f.ledger,
		Numbers:  &fixedNumbers{next: []string{"ORD-20260101-0000000001"}},
	})

	l := f.addLine(t, 1, p.ID, 1)
	_, err = uc.Checkout(ctx, 1, input("k", l))
	requireAbort(t, err, usecase.AbortPersistence)
	assert.Equal(t, int64(10), f.stock(t, p.ID))
	assert.Equal(t, 1, f.cartLen(t, 1))
}
