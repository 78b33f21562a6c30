package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradeloop/internal/store"
	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weightsDoc struct {
	Weights map[string]float64 `json:"weights"`
	Cycles  int                `json:"cycles"`
}

func openTemp(t *testing.T) (*GormStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "tradeloop.db")
	s, err := NewGormStore(path)
	require.NoError(t, err)
	return s, path
}

func TestSnapshotRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	var missing weightsDoc
	_, found, err := s.Load(ctx, "adaptive_weights", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "adaptive_weights", weightsDoc{Weights: map[string]float64{"equity": 1.1}, Cycles: 1}))
	require.NoError(t, s.Save(ctx, "adaptive_weights", weightsDoc{Weights: map[string]float64{"equity": 1.2}, Cycles: 2}))
	require.NoError(t, s.Close())

	s, err = NewGormStore(path)
	require.NoError(t, err)
	defer s.Close()

	var got weightsDoc
	savedAt, found, err := s.Load(ctx, "adaptive_weights", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, got.Cycles)
	assert.InDelta(t, 1.2, got.Weights["equity"], 1e-12)
	assert.WithinDuration(t, time.Now(), savedAt, time.Minute)
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Save(context.Background(), "x", 1), store.ErrClosed)
}

func TestTradeJournal(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	defer s.Close()

	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	open := types.Trade{ID: "t1", Symbol: "aapl", AssetClass: types.AssetEquity, Side: types.SideLong,
		Quantity: 3, EntryPrice: 100, EntryTime: base}
	require.NoError(t, s.PutTrade(ctx, open))

	closed, err := s.ClosedSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, closed)

	exit := base.Add(2 * time.Hour)
	open.ExitTime = &exit
	open.ExitPrice = 110
	open.PnL = 30
	open.CloseReason = "target"
	require.NoError(t, s.PutTrade(ctx, open))

	second := types.Trade{ID: "t2", Symbol: "MSFT", AssetClass: types.AssetEquity, Side: types.SideShort,
		Quantity: 1, EntryPrice: 400, EntryTime: base.Add(time.Hour)}
	require.NoError(t, s.PutTrade(ctx, second))

	closed, err = s.ClosedSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "t1", closed[0].ID)
	assert.InDelta(t, 30, closed[0].PnL, 1e-9)
	assert.True(t, closed[0].Won())

	recent, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t2", recent[0].ID)
	assert.True(t, recent[0].Open())
}
