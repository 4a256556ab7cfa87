package usecase_test

import (
	"context"
	"testing"

	"shopcheckout/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 同じ商品は数量が加算される
func TestCart_AddMerges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)

	first, err := f.cart.AddOrMerge(ctx, 1, p.ID, 2)
	require.NoError(t, err)
	second, err := f.cart.AddOrMerge(ctx, 1, p.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(5), second.Quantity)
	assert.Equal(t, 1, f.cartLen(t, 1))
}

// 数量0以下は拒否
func TestCart_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)

	_, err := f.cart.AddOrMerge(ctx, 1, p.ID, 0)
	assert.ErrorIs(t, err, usecase.ErrInvalidQuantity)

	l := f.addLine(t, 1, p.ID, 1)
	_, err = f.cart.UpdateQuantity(ctx, 1, l, -1)
	assert.ErrorIs(t, err, usecase.ErrInvalidQuantity)
}

func TestCart_AddInactiveProduct(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, false)

	_, err := f.cart.AddOrMerge(context.Background(), 1, p.ID, 1)
	assert.ErrorIs(t, err, usecase.ErrProductUnavailable)

	_, err = f.cart.AddOrMerge(context.Background(), 1, 777, 1)
	assert.ErrorIs(t, err, usecase.ErrProductUnavailable)
}

func TestCart_UpdateQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	line, err := f.cart.UpdateQuantity(ctx, 1, l, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), line.Quantity)

	// 他人の明細
	_, err = f.cart.UpdateQuantity(ctx, 2, l, 7)
	assert.ErrorIs(t, err, usecase.ErrLineVanished)
}

// 見つからないIDは全部報告する
func TestCart_GetLinesReportsMissing(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	_, err := f.cart.GetLines(context.Background(), 1, []int64{l, 41, 42})
	require.Error(t, err)

	var missing *usecase.MissingLinesError
	require.ErrorAs(t, err, &missing)
	assert.ElementsMatch(t, []int64{41, 42}, missing.IDs)
	assert.ErrorIs(t, err, usecase.ErrLineVanished)

	lines, err := f.cart.GetLines(context.Background(), 1, []int64{l, l})
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

// 削除は何度呼んでもよい
func TestCart_RemoveLinesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t, "A", 100, 10, true)
	l := f.addLine(t, 1, p.ID, 1)

	require.NoError(t, f.cart.RemoveLines(ctx, 1, []int64{l}))
	require.NoError(t, f.cart.RemoveLines(ctx, 1, []int64{l}))
	require.NoError(t, f.cart.RemoveLines(ctx, 1, nil))
	assert.Equal(t, 0, f.cartLen(t, 1))
}

// 非公開商品は合計から外れる。空なら送料もかからない
func TestCart_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedProduct(t, "A", 1000, 10, true)
	b := f.seedProduct(t, "B", 300, 10, true)
	f.addLine(t, 1, a.ID, 2)
	f.addLine(t, 1, b.ID, 1)

	b.IsActive = false
	require.NoError(t, f.store.Products().Update(ctx, b))

	s, err := f.cart.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.LineCount)
	assert.Equal(t, int64(3), s.TotalQuantity)
	assert.Equal(t, int64(2000), s.Subtotal)
	assert.Equal(t, int64(testShippingFee), s.ShippingFee)
	assert.Equal(t, int64(2000+testShippingFee), s.Total)

	require.NoError(t, f.cart.Clear(ctx, 1))
	empty, err := f.cart.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.ShippingFee)
	assert.Equal(t, int64(0), empty.Total)
	assert.Empty(t, empty.Lines)
}
