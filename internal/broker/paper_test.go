package broker

import (
	"context"
	"testing"

	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func market(sym string, side types.OrderSide, qty, px float64) OrderRequest {
	return OrderRequest{Symbol: sym, AssetClass: types.AssetEquity, Side: side, Quantity: qty, Type: types.OrderMarket, Price: px}
}

func TestPaperFillsAtReferencePrice(t *testing.T) {
	p := NewPaper()
	ctx := context.Background()
	f, err := p.PlaceOrder(ctx, market("AAPL", types.OrderBuy, 3, 50))
	require.NoError(t, err)
	assert.True(t, f.Filled)
	assert.Equal(t, 50.0, f.Price)

	_, err = p.PlaceOrder(ctx, market("AAPL", types.OrderBuy, 1, 54))
	require.NoError(t, err)
	hs, _ := p.GetPositions(ctx)
	require.Len(t, hs, 1)
	assert.Equal(t, types.SideLong, hs[0].Side)
	assert.Equal(t, 4.0, hs[0].Quantity)
	assert.InDelta(t, 51.0, hs[0].EntryPrice, 1e-12)

	_, err = p.PlaceOrder(ctx, market("AAPL", types.OrderSell, 4, 60))
	require.NoError(t, err)
	hs, _ = p.GetPositions(ctx)
	assert.Empty(t, hs)
}

func TestPaperShortAndFlip(t *testing.T) {
	p := NewPaper()
	ctx := context.Background()
	_, err := p.PlaceOrder(ctx, market("TSLA", types.OrderSell, 2, 200))
	require.NoError(t, err)
	hs, _ := p.GetPositions(ctx)
	require.Len(t, hs, 1)
	assert.Equal(t, types.SideShort, hs[0].Side)
	assert.Equal(t, 2.0, hs[0].Quantity)

	_, err = p.PlaceOrder(ctx, market("TSLA", types.OrderBuy, 5, 190))
	require.NoError(t, err)
	hs, _ = p.GetPositions(ctx)
	assert.Equal(t, types.SideLong, hs[0].Side)
	assert.Equal(t, 3.0, hs[0].Quantity)
	assert.Equal(t, 190.0, hs[0].EntryPrice)
}

func TestPaperStopRestsAndCancels(t *testing.T) {
	p := NewPaper()
	ctx := context.Background()
	f, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: types.OrderSell, Quantity: 3, Type: types.OrderStop, Price: 48})
	require.NoError(t, err)
	assert.False(t, f.Filled)
	assert.Contains(t, p.Resting(), f.OrderID)
	require.NoError(t, p.CancelOrder(ctx, f.OrderID))
	assert.Error(t, p.CancelOrder(ctx, f.OrderID))
}

func TestOrderValidation(t *testing.T) {
	p := NewPaper()
	_, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "AAPL", Side: types.OrderBuy, Quantity: 0, Type: types.OrderMarket, Price: 1})
	assert.ErrorIs(t, err, ErrRejected)
	_, err = p.PlaceOrder(context.Background(), OrderRequest{Symbol: "AAPL", Side: types.OrderBuy, Quantity: 1, Type: types.OrderStop})
	assert.ErrorIs(t, err, ErrRejected)
}
