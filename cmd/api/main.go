package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"shopcheckout/internal/config"
	"shopcheckout/internal/event"
	"shopcheckout/internal/handler"
	"shopcheckout/internal/infra/db"
	"shopcheckout/internal/infra/kafka"
	"shopcheckout/internal/infra/memory"
	"shopcheckout/internal/infra/redisx"
	infraRepo "shopcheckout/internal/infra/repository"
	"shopcheckout/internal/lock"
	"shopcheckout/internal/logger"
	"shopcheckout/internal/metrics"
	repo "shopcheckout/internal/repository"
	"shopcheckout/internal/server"
	"shopcheckout/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const eventBufferSize = 1024

func main() {
	//.envは無くてもよい（本番は環境変数）
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "shopcheckout",
		Env:     cfg.GoEnv,
		Level:   cfg.LogLevel,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// stores はバックエンドごとのリポジトリ一式
type stores struct {
	tx        repo.TransactionManager
	orders    repo.OrderRepository
	carts     repo.CartRepository
	inventory repo.InventoryRepository
	products  repo.ProductRepository
	checks    map[string]handler.Pinger
	close     func()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		s := memory.NewStore()
		if err := seedProducts(ctx, s.Products()); err != nil {
			return stores{}, err
		}
		log.Warn("using in-memory store; data is lost on restart")
		return stores{
			tx:        s.TxManager(),
			orders:    s.Orders(),
			carts:     s.Carts(),
			inventory: s.Inventory(),
			products:  s.Products(),
			checks:    map[string]handler.Pinger{},
			close:     func() {},
		}, nil

	case config.BackendPostgres:
		//DB接続
		gormDB, err := db.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Migrate(gormDB); err != nil {
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return stores{}, err
		}

		//Repository（GORM実装）生成
		return stores{
			tx:        infraRepo.NewTxManagerGorm(gormDB),
			orders:    infraRepo.NewOrderGormRepository(gormDB),
			carts:     infraRepo.NewCartGormRepository(gormDB),
			inventory: infraRepo.NewInventoryGormRepository(gormDB),
			products:  infraRepo.NewProductGormRepository(gormDB),
			checks:    map[string]handler.Pinger{"postgres": handler.PingFunc(sqlDB.PingContext)},
			close:     func() { _ = sqlDB.Close() },
		}, nil

	default:
		return stores{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// redis（任意）：ユーザー単位ロックと冪等キャッシュ
	var (
		locker lock.Locker = lock.Local()
		idem   usecase.IdempotencyCache
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()

		locker = redisx.NewLocker(rdb)
		idem = redisx.NewIdempotencyCache(rdb)
		st.checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("redis enabled", "addr", cfg.RedisAddr)
	}

	// kafka（任意）：コミット後のイベント
	var publisher event.Publisher = event.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		prod := kafka.NewProducer(cfg.KafkaBrokers, eventBufferSize, log)
		prod.Start()
		defer func() {
			prod.Close()
			prod.WaitClosed()
		}()
		publisher = prod
		log.Info("kafka enabled", "brokers", cfg.KafkaBrokers)
	}

	//Usecase生成
	ledger := usecase.NewInventoryLedger(st.inventory, cfg.LedgerTimeout, m)
	cartUC := usecase.NewCartUsecase(st.carts, st.products, cfg.ShippingFee)
	checkoutUC := usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:                  st.tx,
		Orders:              st.orders,
		Products:            st.products,
		Cart:                cartUC,
		Ledger:              ledger,
		Locker:              locker,
		Idempotent:          idem,
		Publisher:           publisher,
		Log:                 log,
		Metrics:             m,
		ShippingFee:         cfg.ShippingFee,
		LockTimeout:         cfg.CheckoutLockTimeout,
		CompensationTimeout: cfg.CompensationTimeout,
	})
	statusUC := usecase.NewOrderStatusUsecase(st.tx, ledger, publisher, log, m)
	queryUC := usecase.NewOrderQueryUsecase(st.tx, st.orders, st.products, ledger)

	//Handler生成
	e := server.New(cfg, log, m, server.Handlers{
		Cart:       handler.NewCartHandler(cartUC),
		Checkout:   handler.NewCheckoutHandler(checkoutUC),
		Order:      handler.NewOrderHandler(queryUC, statusUC),
		AdminOrder: handler.NewAdminOrderHandler(queryUC, statusUC),
		Stock:      handler.NewStockHandler(queryUC),
		Health:     handler.NewHealthHandler(reg, st.checks),
	})

	//Server起動
	return server.Start(ctx, e, ":"+cfg.Port, log)
}
