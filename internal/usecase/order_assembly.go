package usecase

import (
	"sort"
	"time"

	"shopcheckout/internal/domain/model"
)

// AssemblyLine は引当済みのカート明細と、その時点で読んだ商品。
type AssemblyLine struct {
	Line    model.CartLine
	Product model.Product
}

type AssemblyInput struct {
	UserID          int64
	Lines           []AssemblyLine
	ShippingFee     int64
	ShippingAddress string
	ShippingPhone   string
	Note            string
	Now             time.Time
}

// AssembleOrder は副作用なし。価格と商品名はここで読んだ値で固定する。
// 注文番号と冪等キーは呼び出し側で埋める。
func AssembleOrder(in AssemblyInput) (model.Order, []model.OrderItem, error) {
	if len(in.Lines) == 0 {
		return model.Order{}, nil, ErrEmptyOrder
	}

	lines := make([]AssemblyLine, len(in.Lines))
	copy(lines, in.Lines)
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Line.ProductID < lines[j].Line.ProductID
	})

	items := make([]model.OrderItem, 0, len(lines))
	var subtotal int64
	for _, l := range lines {
		if l.Product.ID != l.Line.ProductID || !l.Product.IsActive {
			return model.Order{}, nil, &UnavailableError{ProductID: l.Line.ProductID}
		}
		if l.Line.Quantity <= 0 {
			return model.Order{}, nil, ErrInvalidQuantity
		}

		//スナップショット
		sub := l.Product.Price * l.Line.Quantity
		items = append(items, model.OrderItem{
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			Price:       l.Product.Price,
			Quantity:    l.Line.Quantity,
			Subtotal:    sub,
			CreatedAt:   in.Now,
		})
		subtotal += sub
	}

	order := model.Order{
		UserID:          in.UserID,
		Subtotal:        subtotal,
		ShippingFee:     in.ShippingFee,
		TotalAmount:     subtotal + in.ShippingFee,
		Status:          model.OrderStatusPending,
		ShippingAddress: in.ShippingAddress,
		ShippingPhone:   in.ShippingPhone,
		Note:            in.Note,
		CreatedAt:       in.Now,
		UpdatedAt:       in.Now,
	}
	return order, items, nil
}
