package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Configはアプリ全体の設定
type Config struct {
	Port     string // サーバーポート（8080）
	GoEnv    string // dev/prod
	LogLevel string // debug/info/warn/error

	StoreBackend string // postgres / memory

	DatabaseURL      string // あれば最優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）

	JWTSecret string // JWT署名シークレット

	ShippingFee int64 // 送料（最小通貨単位）

	LedgerTimeout       time.Duration // 在庫台帳1回あたりの上限
	CheckoutLockTimeout time.Duration // ユーザー単位ロックの待ち上限
	CompensationTimeout time.Duration // 補償（在庫戻し）の上限

	RedisAddr    string   // 空ならredisを使わない
	KafkaBrokers []string // 空ならイベントは捨てる
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port:     getenv("PORT", "8080"),
		GoEnv:    os.Getenv("GO_ENV"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", BackendPostgres)),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
	}

	var err error
	if cfg.PostgresPort, err = atoiDefault("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	fee, err := atoiDefault("SHIPPING_FEE", 600)
	if err != nil {
		return Config{}, err
	}
	cfg.ShippingFee = int64(fee)

	if cfg.LedgerTimeout, err = millisDefault("LEDGER_TIMEOUT_MS", 2000); err != nil {
		return Config{}, err
	}
	if cfg.CheckoutLockTimeout, err = millisDefault("CHECKOUT_LOCK_TIMEOUT_MS", 5000); err != nil {
		return Config{}, err
	}
	if cfg.CompensationTimeout, err = millisDefault("COMPENSATION_TIMEOUT_MS", 5000); err != nil {
		return Config{}, err
	}

	//必須チェック
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ShippingFee < 0 {
		return Config{}, fmt.Errorf("SHIPPING_FEE must not be negative")
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			if cfg.PostgresUser == "" {
				return Config{}, fmt.Errorf("POSTGRES_USER is required")
			}
			if cfg.PostgresPassword == "" {
				return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
			}
			if cfg.PostgresDB == "" {
				return Config{}, fmt.Errorf("POSTGRES_DB is required")
			}
			if cfg.PostgresHost == "" {
				return Config{}, fmt.Errorf("POSTGRES_HOST is required")
			}
		}
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be %q or %q", BackendPostgres, BackendMemory)
	}

	return cfg, nil
}

// PostgresDSN はDATABASE_URLが無ければPOSTGRES_*から組み立てる
func (c Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
	)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func millisDefault(key string, def int) (time.Duration, error) {
	ms, err := atoiDefault(key, def)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
