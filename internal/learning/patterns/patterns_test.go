package patterns

import (
	"fmt"
	"testing"
	"time"

	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func trade(id string, side types.Side, f []float64, pnl float64) types.Trade {
	at := t0
	return types.Trade{
		ID: id, Symbol: "X", Side: side, PnL: pnl, PnLPct: pnl, ExitTime: &at,
		Entry: types.EntryContext{Features: f},
	}
}

func TestCosine(t *testing.T) {
	s, ok := Cosine([]float64{1, 0}, []float64{2, 0})
	require.True(t, ok)
	assert.InDelta(t, 1, s, 1e-12)
	s, _ = Cosine([]float64{1, 0}, []float64{0, 1})
	assert.InDelta(t, 0, s, 1e-12)
	_, ok = Cosine([]float64{1}, []float64{1, 2})
	assert.False(t, ok)
	_, ok = Cosine([]float64{0, 0}, []float64{1, 2})
	assert.False(t, ok)
}

func TestEdgeNeedsFiveSimilar(t *testing.T) {
	m := New(DefaultConfig())
	base := []float64{1, 2, 3}
	for i := 0; i < 4; i++ {
		m.Record(trade(fmt.Sprint(i), types.SideLong, base, 5))
	}
	m.Record(trade("far", types.SideLong, []float64{-3, 0, 1}, -5))
	m.Record(trade("short", types.SideShort, base, -5))

	e := m.Query(base, types.SideLong, t0)
	assert.False(t, e.Known)
	assert.Equal(t, 4, e.Matches)

	m.Record(trade("4", types.SideLong, []float64{1.1, 2, 3}, -5))
	e = m.Query(base, types.SideLong, t0)
	require.True(t, e.Known)
	assert.Equal(t, 5, e.Matches)
	assert.InDelta(t, 0.8, e.WinRate, 1e-12)
	assert.InDelta(t, 3.0, e.AvgPnLPct, 1e-12)
}

func TestSimilarityIgnoresFeatureUnits(t *testing.T) {
	// ret_5, rsi_14, adx, volume_ratio: rsi and adx dwarf the return
	up := []float64{0.02, 70, 25, 1}
	down := []float64{-0.02, 30, 25, 1}
	raw, ok := Cosine(up, down)
	require.True(t, ok)
	require.Greater(t, raw, DefaultConfig().Similarity, "unscaled vectors look alike")

	m := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		m.Record(trade(fmt.Sprint("up", i), types.SideLong, up, 4))
		m.Record(trade(fmt.Sprint("down", i), types.SideLong, down, -3))
	}

	e := m.Query([]float64{0.018, 68, 25, 1}, types.SideLong, t0)
	require.True(t, e.Known)
	assert.Equal(t, 5, e.Matches, "down-trends are not similar to an up-trend")
	assert.Equal(t, 1.0, e.WinRate)

	e = m.Query([]float64{-0.021, 31, 25, 1}, types.SideLong, t0)
	require.True(t, e.Known)
	assert.Equal(t, 5, e.Matches)
	assert.Equal(t, 0.0, e.WinRate)
	assert.InDelta(t, -3.0, e.AvgPnLPct, 1e-12)
}

func TestArchiveBoundedAndDeduplicated(t *testing.T) {
	m := New(DefaultConfig())
	for i := 0; i < 1100; i++ {
		m.Record(trade(fmt.Sprint(i), types.SideLong, []float64{1, float64(i)}, 1))
	}
	m.Record(trade("1099", types.SideLong, []float64{1, 1}, 1))
	m.Record(trade("nofeatures", types.SideLong, nil, 1))
	assert.Equal(t, 1000, m.Len())
	// evicted ids can be recorded again
	m.Record(trade("0", types.SideLong, []float64{1, 0}, 1))
	assert.Equal(t, 1000, m.Len())
	assert.Equal(t, "0", m.State().Patterns[999].TradeID)
}

func TestRestoreRoundTrip(t *testing.T) {
	m := New(DefaultConfig())
	m.Record(trade("a", types.SideLong, []float64{1, 2}, 1))
	m.Record(trade("b", types.SideShort, []float64{2, 1}, -1))

	other := New(DefaultConfig())
	other.Restore(m.State())
	assert.Equal(t, m.State(), other.State())
	other.Record(trade("a", types.SideLong, []float64{1, 2}, 1))
	assert.Equal(t, 2, other.Len())
}
