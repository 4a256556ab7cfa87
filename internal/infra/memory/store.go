// Package memory は組み込み用のインメモリ実装。
// 単一プロセス（端末内・テスト）向けで、postgres実装と同じ約束を守る。
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"shopcheckout/internal/domain/model"
	"shopcheckout/internal/lock"
	repo "shopcheckout/internal/repository"
)

type productRow struct {
	p     model.Product // Stockはここでは持たない
	stock atomic.Int64
}

type idemKey struct {
	userID int64
	key    string
}

// Store は全テーブルを持つ。
// 在庫は商品単位のロック、それ以外はtableMuで守る。
// txMuはコミット前の行を外から見せないためのもの（WithinTxが排他で持つ）。
type Store struct {
	txMu sync.RWMutex

	productsMu sync.RWMutex
	products   map[int64]*productRow
	stockLocks *lock.KeyedMutex[int64]

	journalMu sync.Mutex
	journal   []model.InventoryAdjustment

	tableMu      sync.Mutex
	cart         map[int64]model.CartLine
	orders       map[int64]model.Order
	orderNumbers map[string]int64
	idem         map[idemKey]int64
	items        map[int64][]model.OrderItem
	audit        []model.AuditLog

	seqProduct atomic.Int64
	seqCart    atomic.Int64
	seqOrder   atomic.Int64
	seqItem    atomic.Int64
	seqAdj     atomic.Int64
	seqAudit   atomic.Int64

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		products:     make(map[int64]*productRow),
		stockLocks:   lock.NewKeyedMutex[int64](),
		cart:         make(map[int64]model.CartLine),
		orders:       make(map[int64]model.Order),
		orderNumbers: make(map[string]int64),
		idem:         make(map[idemKey]int64),
		items:        make(map[int64][]model.OrderItem),
		now:          time.Now,
	}
}

// tx はWithinTx中の状態。nilならトランザクション外。
type tx struct {
	undo []func()
	// 商品ロック（コミット/ロールバックまで持つ）
	held map[int64]func()
}

func (t *tx) onRollback(f func()) {
	if t != nil {
		t.undo = append(t.undo, f)
	}
}

// view はトランザクション外の呼び出しでだけtxMuの読みロックを取る
func (s *Store) view(t *tx) func() {
	if t != nil {
		return func() {}
	}
	s.txMu.RLock()
	return s.txMu.RUnlock
}

func (s *Store) Products() *ProductRepository   { return &ProductRepository{s: s} }
func (s *Store) Inventory() *InventoryRepository { return &InventoryRepository{s: s} }
func (s *Store) Carts() *CartRepository         { return &CartRepository{s: s} }
func (s *Store) Orders() *OrderRepository       { return &OrderRepository{s: s} }
func (s *Store) OrderItems() *OrderItemRepository {
	return &OrderItemRepository{s: s}
}
func (s *Store) AuditLogs() *AuditLogRepository { return &AuditLogRepository{s: s} }
func (s *Store) TxManager() *TxManager          { return &TxManager{s: s} }

type txRepos struct {
	s *Store
	t *tx
}

func (r txRepos) Orders() repo.OrderRepository { return &OrderRepository{s: r.s, t: r.t} }
func (r txRepos) OrderItems() repo.OrderItemRepository {
	return &OrderItemRepository{s: r.s, t: r.t}
}
func (r txRepos) Carts() repo.CartRepository          { return &CartRepository{s: r.s, t: r.t} }
func (r txRepos) Inventory() repo.InventoryRepository { return &InventoryRepository{s: r.s, t: r.t} }
func (r txRepos) Products() repo.ProductRepository    { return &ProductRepository{s: r.s, t: r.t} }
func (r txRepos) AuditLogs() repo.AuditLogRepository  { return &AuditLogRepository{s: r.s, t: r.t} }

type TxManager struct {
	s *Store
}

// WithinTx はfnがerrorを返したら記録した取り消しを逆順に実行する。
func (m *TxManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.s.txMu.Lock()
	t := &tx{held: make(map[int64]func())}

	defer func() {
		p := recover()
		if p != nil || err != nil {
			m.s.rollback(t)
		}
		for _, unlock := range t.held {
			unlock()
		}
		m.s.txMu.Unlock()
		if p != nil {
			panic(p)
		}
	}()

	return fn(txRepos{s: m.s, t: t})
}

func (s *Store) rollback(t *tx) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

var (
	_ repo.ProductRepository   = (*ProductRepository)(nil)
	_ repo.InventoryRepository = (*InventoryRepository)(nil)
	_ repo.CartRepository      = (*CartRepository)(nil)
	_ repo.OrderRepository     = (*OrderRepository)(nil)
	_ repo.OrderItemRepository = (*OrderItemRepository)(nil)
	_ repo.AuditLogRepository  = (*AuditLogRepository)(nil)
	_ repo.TransactionManager  = (*TxManager)(nil)
)
