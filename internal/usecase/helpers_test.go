package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/event"
	"shopcheckout/internal/infra/memory"
	"shopcheckout/internal/logger"
	"shopcheckout/internal/metrics"
	repo "shopcheckout/internal/repository"
	"shopcheckout/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testShippingFee = 600

var errInjected = errors.New("injected failure")

// =====================
// fixture
// =====================

type fixture struct {
	store   *memory.Store
	metrics *metrics.Metrics
	pub     *recordingPublisher

	// 差し替え可能な依存（故障注入用）
	inv    repo.InventoryRepository
	carts  repo.CartRepository
	orders repo.OrderRepository
	tx     repo.TransactionManager

	ledger   *usecase.InventoryLedger
	cart     *usecase.CartUsecase
	checkout *usecase.CheckoutUsecase
	status   *usecase.OrderStatusUsecase
	query    *usecase.OrderQueryUsecase
}

type option func(f *fixture)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	s := memory.NewStore()
	f := &fixture{
		store:   s,
		metrics: metrics.New(prometheus.NewRegistry()),
		pub:     &recordingPublisher{},
		inv:     s.Inventory(),
		carts:   s.Carts(),
		orders:  s.Orders(),
		tx:      s.TxManager(),
	}
	for _, o := range opts {
		o(f)
	}

	log := logger.Discard()
	f.ledger = usecase.NewInventoryLedger(f.inv, time.Second, f.metrics)
	f.cart = usecase.NewCartUsecase(f.carts, s.Products(), testShippingFee)
	f.checkout = usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:                  f.tx,
		Orders:              f.orders,
		Products:            s.Products(),
		Cart:                f.cart,
		Ledger:              f.ledger,
		Publisher:           f.pub,
		Log:                 log,
		Metrics:             f.metrics,
		ShippingFee:         testShippingFee,
		LockTimeout:         2 * time.Second,
		CompensationTimeout: time.Second,
	})
	f.status = usecase.NewOrderStatusUsecase(f.tx, f.ledger, f.pub, log, f.metrics)
	f.query = usecase.NewOrderQueryUsecase(f.tx, f.orders, s.Products(), f.ledger)
	return f
}

func (f *fixture) seedProduct(t *testing.T, name string, price, stock int64, active bool) model.Product {
	t.Helper()
	p, err := f.store.Products().Create(context.Background(), model.Product{
		Name: name, Price: price, Stock: stock, IsActive: active,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) addLine(t *testing.T, userID, productID, qty int64) int64 {
	t.Helper()
	l, err := f.store.Carts().UpsertByUserAndProduct(context.Background(), userID, productID, qty)
	require.NoError(t, err)
	return l.ID
}

func (f *fixture) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	n, err := f.store.Inventory().GetStock(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func (f *fixture) cartLen(t *testing.T, userID int64) int {
	t.Helper()
	lines, err := f.store.Carts().ListByUserID(context.Background(), userID)
	require.NoError(t, err)
	return len(lines)
}

func (f *fixture) orderCount(t *testing.T) int64 {
	t.Helper()
	_, total, err := f.store.Orders().List(context.Background(), repo.OrderListFilter{Page: 1, Limit: 1})
	require.NoError(t, err)
	return total
}

func input(key string, lineIDs ...int64) usecase.CheckoutInput {
	return usecase.CheckoutInput{
		CartLineIDs:     lineIDs,
		ShippingAddress: "東京都千代田区1-1",
		ShippingPhone:   "03-0000-0000",
		IdempotencyKey:  key,
	}
}

// =====================
// 故障注入
// =====================

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key string, env event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// faultyInventory は在庫操作に割り込む
type faultyInventory struct {
	repo.InventoryRepository

	failRelease bool
	// 1回目の引当が成功した直後に呼ばれる
	afterFirstReserve func()
	reserves          atomic.Int64
}

func (r *faultyInventory) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64, ref string) (bool, error) {
	ok, err := r.InventoryRepository.DecreaseStockIfEnough(ctx, productID, qty, ref)
	if ok && err == nil && r.reserves.Add(1) == 1 && r.afterFirstReserve != nil {
		r.afterFirstReserve()
	}
	return ok, err
}

func (r *faultyInventory) IncreaseStock(ctx context.Context, productID int64, qty int64, reason model.AdjustmentReason, ref string) error {
	if r.failRelease && reason == model.AdjustmentRelease {
		return errInjected
	}
	return r.InventoryRepository.IncreaseStock(ctx, productID, qty, reason, ref)
}

type faultyCarts struct {
	repo.CartRepository
	deleteErr error
}

func (r *faultyCarts) DeleteByIDs(ctx context.Context, userID int64, lineIDs []int64) (int64, error) {
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	return r.CartRepository.DeleteByIDs(ctx, userID, lineIDs)
}

func (r *faultyCarts) ConsumeLines(ctx context.Context, userID int64, used []model.CartLine) (int64, error) {
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	return r.CartRepository.ConsumeLines(ctx, userID, used)
}

// hidingOrders は冪等キー検索を最初のn回だけ「無い」と答える（同時コミットの再現）
type hidingOrders struct {
	repo.OrderRepository
	hide atomic.Int64
}

func (r *hidingOrders) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	if r.hide.Add(-1) >= 0 {
		return model.Order{}, false, nil
	}
	return r.OrderRepository.FindByIdempotencyKey(ctx, userID, key)
}

// hookTx はトランザクションを失敗させるか、中のリポジトリを差し替える
type hookTx struct {
	inner repo.TransactionManager
	err   error
	wrap  func(r repo.TxRepos) repo.TxRepos
}

func (m *hookTx) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if m.err != nil {
		return m.err
	}
	return m.inner.WithinTx(ctx, func(r repo.TxRepos) error {
		if m.wrap != nil {
			r = m.wrap(r)
		}
		return fn(r)
	})
}

// staleRepos ではUpdateStatusIfが常に負ける（他の更新が先に入った）
type staleRepos struct {
	repo.TxRepos
}

func (r staleRepos) Orders() repo.OrderRepository { return staleOrders{r.TxRepos.Orders()} }

type staleOrders struct {
	repo.OrderRepository
}

func (staleOrders) UpdateStatusIf(ctx context.Context, orderID int64, from model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error) {
	return false, nil
}
