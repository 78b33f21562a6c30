package components

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func trade(id string, c types.Components, pnl float64, at time.Time) types.Trade {
	return types.Trade{
		ID: id, Side: types.SideLong, PnL: pnl, ExitTime: &at,
		Entry: types.EntryContext{Components: c},
	}
}

func sum(m map[string]float64) float64 {
	s := 0.0
	for _, v := range m {
		s += v
	}
	return s
}

func TestDefaultsSumToOne(t *testing.T) {
	l := New(DefaultConfig())
	assert.InDelta(t, 1.0, sum(l.Weights()), 1e-12)
}

func TestTimingPredictsWinners(t *testing.T) {
	l := New(DefaultConfig())
	for i := 0; i < 30; i++ {
		c := types.Components{RiskReward: 0.5, Confidence: 0.5, Timing: 0.2, Liquidity: 0.5, Diversification: 0.5}
		pnl := -10.0
		if i%2 == 0 {
			c.Timing = 0.9
			pnl = 10
		}
		l.Record(trade(fmt.Sprint(i), c, pnl, t0))
	}
	diffs, n := l.Differentials(t0)
	require.Equal(t, 30, n)
	assert.InDelta(t, 0.7, diffs["timing"], 1e-9)
	assert.InDelta(t, 0.0, diffs["liquidity"], 1e-9)

	before := l.Weights()
	_, changed := l.Adapt(t0)
	require.True(t, changed)
	after := l.Weights()
	assert.Greater(t, after["timing"], before["timing"])
	assert.Less(t, after["risk_reward"], before["risk_reward"])
	assert.InDelta(t, 1.0, sum(after), 1e-9)

	_, changed = l.Adapt(t0.Add(time.Hour))
	assert.False(t, changed, "24h cycle")
}

func TestMinimumTradesGate(t *testing.T) {
	l := New(DefaultConfig())
	for i := 0; i < 19; i++ {
		l.Record(trade(fmt.Sprint(i), types.Components{Timing: float64(i % 2)}, float64(i%2*2-1), t0))
	}
	_, changed := l.Adapt(t0)
	assert.False(t, changed)
}

func TestArchiveCapAndDedup(t *testing.T) {
	l := New(DefaultConfig())
	for i := 0; i < 600; i++ {
		l.Record(trade(fmt.Sprint(i), types.Components{}, 1, t0))
	}
	l.Record(trade("599", types.Components{}, 1, t0))
	s := l.State()
	assert.Len(t, s.Outcomes, 500)
	assert.Equal(t, "100", s.Outcomes[0].TradeID)
}

func TestWeightsStayInBandAcrossCycles(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	rng := rand.New(rand.NewSource(5))
	now := t0
	id := 0
	for cycle := 0; cycle < 1200; cycle++ {
		for k := 0; k < 25; k++ {
			c := types.Components{
				RiskReward: rng.Float64(), Confidence: rng.Float64(), Timing: rng.Float64(),
				Liquidity: rng.Float64(), Diversification: rng.Float64(),
			}
			// an extreme, persistent edge on one component
			pnl := -1.0
			if c.Liquidity > 0.5 {
				pnl = 1
			}
			l.Record(trade(fmt.Sprint(id), c, pnl, now))
			id++
		}
		l.Adapt(now)
		w := l.Weights()
		for name, v := range w {
			assert.GreaterOrEqual(t, v, cfg.MinWeight-1e-12, name)
			assert.LessOrEqual(t, v, cfg.MaxWeight+1e-12, name)
		}
		assert.InDelta(t, 1.0, sum(w), 1e-9)
		now = now.Add(25 * time.Hour)
	}
	assert.InDelta(t, cfg.MaxWeight, l.Weights()["liquidity"], 0.03)
}

func TestRestoreRenormalizes(t *testing.T) {
	l := New(DefaultConfig())
	l.Restore(State{Weights: map[string]float64{"timing": 5, "bogus": 3}})
	w := l.Weights()
	assert.NotContains(t, w, "bogus")
	assert.InDelta(t, 1.0, sum(w), 1e-9)
	assert.LessOrEqual(t, w["timing"], 0.40+1e-12)
}
