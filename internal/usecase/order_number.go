package usecase

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderNumberGenerator は注文番号の採番。一意性の最終判定はDBのunique index。
type OrderNumberGenerator interface {
	Next(now time.Time) string
}

// RandomOrderNumbers は ORD-YYYYMMDD-XXXXXXXXXX（16進10桁）を作る。
// 同じ秒に何件来ても、衝突はランダム部分だけに依存する。
type RandomOrderNumbers struct{}

func (RandomOrderNumbers) Next(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return "ORD-" + now.Format("20060102") + "-" + suffix
}
