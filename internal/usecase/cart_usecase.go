package usecase

import (
	"context"
	"errors"
	"time"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"
)

// CartUsecase はカート（ユーザー×商品ごとの希望数量）の窓口。
type CartUsecase struct {
	carts       repo.CartRepository
	products    repo.ProductRepository
	shippingFee int64
}

func NewCartUsecase(carts repo.CartRepository, products repo.ProductRepository, shippingFee int64) *CartUsecase {
	return &CartUsecase{
		carts:       carts,
		products:    products,
		shippingFee: shippingFee,
	}
}

type CartSummaryLine struct {
	LineID    int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	Subtotal  int64     `json:"subtotal"`
	Available bool      `json:"available"`
	AddedAt   time.Time `json:"added_at"`
}

// CartSummary は現在価格での見積もり（注文時の価格はチェックアウトで確定する）。
type CartSummary struct {
	Lines         []CartSummaryLine `json:"lines"`
	LineCount     int               `json:"line_count"`
	TotalQuantity int64             `json:"total_quantity"`
	Subtotal      int64             `json:"subtotal"`
	ShippingFee   int64             `json:"shipping_fee"`
	Total         int64             `json:"total"`
}

// GetLines は指定IDの明細を返す。1件でも無ければMissingLinesError（黙って飛ばさない）。
func (u *CartUsecase) GetLines(ctx context.Context, userID int64, lineIDs []int64) ([]model.CartLine, error) {
	if userID <= 0 {
		return nil, invalidInput("user id")
	}
	ids := uniqueIDs(lineIDs)
	if len(ids) == 0 {
		return nil, invalidInput("no cart lines selected")
	}

	lines, err := u.carts.FindByIDs(ctx, userID, ids)
	if err != nil {
		return nil, persistence("get cart lines", err)
	}

	found := make(map[int64]bool, len(lines))
	for _, l := range lines {
		found[l.ID] = true
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingLinesError{IDs: missing}
	}
	return lines, nil
}

// RemoveLines は削除済みでもエラーにしない
func (u *CartUsecase) RemoveLines(ctx context.Context, userID int64, lineIDs []int64) error {
	if userID <= 0 {
		return invalidInput("user id")
	}
	ids := uniqueIDs(lineIDs)
	if len(ids) == 0 {
		return nil
	}
	if _, err := u.carts.DeleteByIDs(ctx, userID, ids); err != nil {
		return persistence("remove cart lines", err)
	}
	return nil
}

// ConsumeLines は注文に使った数量を明細から引く。
// 読み取り後に別端末で数量が増えていれば、その差分はカートに残る。
func (u *CartUsecase) ConsumeLines(ctx context.Context, userID int64, used []model.CartLine) (int64, error) {
	if userID <= 0 {
		return 0, invalidInput("user id")
	}
	if len(used) == 0 {
		return 0, nil
	}
	kept, err := u.carts.ConsumeLines(ctx, userID, used)
	if err != nil {
		return 0, persistence("consume cart lines", err)
	}
	return kept, nil
}

// AddOrMerge はカートに追加（同一商品は数量加算）。
func (u *CartUsecase) AddOrMerge(ctx context.Context, userID int64, productID int64, qty int64) (model.CartLine, error) {
	if userID <= 0 {
		return model.CartLine{}, invalidInput("user id")
	}
	if productID <= 0 {
		return model.CartLine{}, invalidInput("product id")
	}
	if qty <= 0 {
		return model.CartLine{}, ErrInvalidQuantity
	}

	// 商品チェック（公開のみ）
	p, err := u.products.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartLine{}, &UnavailableError{ProductID: productID}
	}
	if err != nil {
		return model.CartLine{}, persistence("find product", err)
	}
	if !p.IsActive {
		return model.CartLine{}, &UnavailableError{ProductID: productID}
	}

	line, err := u.carts.UpsertByUserAndProduct(ctx, userID, productID, qty)
	if err != nil {
		return model.CartLine{}, persistence("add cart line", err)
	}
	return line, nil
}

// UpdateQuantity は0以下を拒否する（削除はRemoveLinesで明示的に）。
func (u *CartUsecase) UpdateQuantity(ctx context.Context, userID int64, lineID int64, qty int64) (model.CartLine, error) {
	if userID <= 0 {
		return model.CartLine{}, invalidInput("user id")
	}
	if qty <= 0 {
		return model.CartLine{}, ErrInvalidQuantity
	}

	line, err := u.carts.UpdateQuantity(ctx, userID, lineID, qty)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartLine{}, &MissingLinesError{IDs: []int64{lineID}}
	}
	if err != nil {
		return model.CartLine{}, persistence("update cart line", err)
	}
	return line, nil
}

func (u *CartUsecase) Clear(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return invalidInput("user id")
	}
	if err := u.carts.DeleteByUserID(ctx, userID); err != nil {
		return persistence("clear cart", err)
	}
	return nil
}

// Summary は無い/非公開の商品の明細をavailable=falseにして合計から外す。
func (u *CartUsecase) Summary(ctx context.Context, userID int64) (CartSummary, error) {
	if userID <= 0 {
		return CartSummary{}, invalidInput("user id")
	}

	lines, err := u.carts.ListByUserID(ctx, userID)
	if err != nil {
		return CartSummary{}, persistence("list cart", err)
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := u.products.FindByIDs(ctx, ids)
	if err != nil {
		return CartSummary{}, persistence("find products", err)
	}

	out := CartSummary{Lines: make([]CartSummaryLine, 0, len(lines)), LineCount: len(lines)}
	for _, l := range lines {
		p, ok := products[l.ProductID]
		sl := CartSummaryLine{
			LineID:    l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			AddedAt:   l.AddedAt,
			Available: ok && p.IsActive,
		}
		if ok {
			sl.Name = p.Name
			sl.Price = p.Price
		}
		out.TotalQuantity += l.Quantity
		if sl.Available {
			sl.Subtotal = p.Price * l.Quantity
			out.Subtotal += sl.Subtotal
		}
		out.Lines = append(out.Lines, sl)
	}

	if out.Subtotal > 0 {
		out.ShippingFee = u.shippingFee
	}
	out.Total = out.Subtotal + out.ShippingFee
	return out, nil
}

// 重複を除く（順序は保つ）
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
