package ranker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type table map[string]struct {
	bonus   float64
	enabled bool
}

func (t table) Lookup(name string) (float64, bool, bool) {
	e, ok := t[name]
	return e.bonus, e.enabled, ok
}

var tenAM = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func scored(t *testing.T, spec types.CandidateSpec, composite, final float64, pred types.Prediction) types.ScoredCandidate {
	if spec.AssetClass == "" {
		spec.AssetClass = types.AssetEquity
	}
	if spec.Side == "" {
		spec.Side = types.SideLong
	}
	raw, err := types.NewRawCandidate(spec, tenAM)
	require.NoError(t, err)
	return types.ScoredCandidate{
		ValidatedCandidate: types.ValidatedCandidate{
			RawCandidate:        raw,
			Validation:          types.ValidationScores{Composite: composite},
			MeasuredVolumeRatio: 1.6,
		},
		Prediction:      pred,
		FinalConfidence: final,
	}
}

func newRanker(strategies StrategyLookup, adj ContextAdjuster, opts ...Option) *Ranker {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	opts = append([]Option{WithClock(func() time.Time { return tenAM })}, opts...)
	return New(cfg, strategies, adj, opts...)
}

func TestRankReferenceScenario(t *testing.T) {
	// R:R 3.2, confidence 0.75, equity weight 0.70, strategy x1.20,
	// technical composite 0.72, matching prediction at 0.65.
	sc := scored(t, types.CandidateSpec{
		Symbol: "MSFT", Entry: 100, Stop: 95, Target: 116, Confidence: 0.75, Strategy: "breakout",
	}, 0.72, 0.75, types.Prediction{Direction: types.DirectionUp, Confidence: 0.65})
	r := newRanker(table{"breakout": {1.20, true}}, nil,
		WithTiming(func(types.AssetClass, string, time.Time) float64 { return 0.85 }))

	require.NoError(t, r.Tradeable(sc))
	op := r.Rank(context.Background(), sc, Inputs{MarketWeight: 0.70})

	assert.InDelta(t, 0.64, op.Breakdown.Components.RiskReward, 1e-9)
	assert.InDelta(t, 0.743, op.Breakdown.Base, 0.002)
	assert.InDelta(t, 0.70*1.20*1.10*1.08, op.Breakdown.Product, 1e-9)
	assert.InDelta(t, 0.741, op.Score, 0.002)
	assert.Equal(t, op.Score, op.Breakdown.Final)

	names := make([]string, 0, len(op.Breakdown.Multipliers))
	for _, m := range op.Breakdown.Multipliers {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"market_weight", "strategy", "technical", "predictive", "confluence", "context"}, names)
}

func TestTradeableGate(t *testing.T) {
	r := newRanker(nil, nil)
	lowRR := scored(t, types.CandidateSpec{Symbol: "A", Entry: 100, Stop: 95, Target: 105}, 0.6, 0.9, types.NeutralPrediction())
	assert.Error(t, r.Tradeable(lowRR))
	lowConf := scored(t, types.CandidateSpec{Symbol: "A", Entry: 100, Stop: 95, Target: 115}, 0.6, 0.64, types.NeutralPrediction())
	assert.Error(t, r.Tradeable(lowConf))
	ok := scored(t, types.CandidateSpec{Symbol: "A", Entry: 100, Stop: 95, Target: 110}, 0.6, 0.65, types.NeutralPrediction())
	assert.NoError(t, r.Tradeable(ok))
}

func TestScoreLawHoldsForRandomInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 2000; i++ {
		c := types.Components{
			RiskReward: rng.Float64(), Confidence: rng.Float64(), Timing: rng.Float64(),
			Liquidity: rng.Float64(), Diversification: rng.Float64(),
		}
		mults := []types.Multiplier{
			{Name: "market_weight", Value: 0.4 + 0.9*rng.Float64()},
			{Name: "strategy", Value: 0.85 + 0.4*rng.Float64()},
			{Name: "technical", Value: []float64{1, 1.1}[rng.Intn(2)]},
			{Name: "predictive", Value: []float64{1, 1.08}[rng.Intn(2)]},
			{Name: "confluence", Value: []float64{1, 1.12, 1.15}[rng.Intn(3)]},
			{Name: "context", Value: 0.92 + 0.13*rng.Float64()},
		}
		b := Compose(c, nil, mults)
		product := 1.0
		for _, m := range mults {
			product *= m.Value
		}
		assert.Equal(t, math.Min(b.Base*product, 1), b.Final)
		assert.GreaterOrEqual(t, b.Final, 0.0)
		assert.LessOrEqual(t, b.Final, 1.0)
	}
}

func TestMultiplierBands(t *testing.T) {
	strategies := table{"good": {2.0, true}, "bad": {1.1, false}, "meh": {0.5, true}}
	r := newRanker(strategies, AdjusterFunc(func(context.Context, types.ScoredCandidate) (float64, error) {
		return 3, nil
	}))
	assert.Equal(t, 1.25, r.strategyMultiplier("good"))
	assert.Equal(t, 0.85, r.strategyMultiplier("bad"))
	assert.Equal(t, 0.85, r.strategyMultiplier("meh"))
	assert.Equal(t, 1.0, r.strategyMultiplier("unknown"))
	assert.Equal(t, 0.4, r.marketMultiplier(0.1))
	assert.Equal(t, 1.3, r.marketMultiplier(5))
	assert.Equal(t, 1.0, r.marketMultiplier(0))

	sc := scored(t, types.CandidateSpec{Symbol: "A", Entry: 100, Stop: 95, Target: 115}, 0.5, 0.7, types.NeutralPrediction())
	assert.Equal(t, MaxContextAdjust, r.contextMultiplier(context.Background(), sc))

	low := newRanker(nil, AdjusterFunc(func(context.Context, types.ScoredCandidate) (float64, error) { return 0.1, nil }))
	assert.Equal(t, MinContextAdjust, low.contextMultiplier(context.Background(), sc))
	failing := newRanker(nil, AdjusterFunc(func(context.Context, types.ScoredCandidate) (float64, error) {
		return 0, errors.New("search down")
	}))
	assert.Equal(t, 1.0, failing.contextMultiplier(context.Background(), sc))
}

func TestPredictiveBonusNeedsMatchingDirection(t *testing.T) {
	r := newRanker(nil, nil)
	down := types.Prediction{Direction: types.DirectionDown, Confidence: 0.9}
	sc := scored(t, types.CandidateSpec{Symbol: "A", Entry: 100, Stop: 95, Target: 115}, 0.5, 0.7, down)
	op := r.Rank(context.Background(), sc, Inputs{})
	assert.Equal(t, 1.0, op.Breakdown.Multipliers[3].Value)

	short := scored(t, types.CandidateSpec{Symbol: "A", Side: types.SideShort, Entry: 100, Stop: 105, Target: 85}, 0.5, 0.7, down)
	op = r.Rank(context.Background(), short, Inputs{})
	assert.Equal(t, 1.08, op.Breakdown.Multipliers[3].Value)
}

func TestConfluenceWindows(t *testing.T) {
	now := tenAM
	clock := func() time.Time { return now }
	r := newRanker(nil, nil, WithClock(clock))

	insider := scored(t, types.CandidateSpec{Symbol: "ACME", Entry: 10, Stop: 9, Target: 13, Strategy: "edgar_insider_buying"}, 0.5, 0.7, types.NeutralPrediction())
	op := r.Rank(context.Background(), insider, Inputs{})
	assert.Equal(t, 1.0, op.Breakdown.Multipliers[4].Value, "a corroborating signal never boosts itself")

	tech := scored(t, types.CandidateSpec{Symbol: "ACME", Entry: 10, Stop: 9, Target: 13, Strategy: "breakout"}, 0.5, 0.7, types.NeutralPrediction())
	now = tenAM.Add(100 * time.Hour)
	op = r.Rank(context.Background(), tech, Inputs{})
	assert.Equal(t, 1.15, op.Breakdown.Multipliers[4].Value)

	now = tenAM.Add(169 * time.Hour)
	op = r.Rank(context.Background(), tech, Inputs{})
	assert.Equal(t, 1.0, op.Breakdown.Multipliers[4].Value)

	flow := scored(t, types.CandidateSpec{Symbol: "ACME", Side: types.SideShort, Entry: 10, Stop: 11, Target: 7, Strategy: "unusual_options_flow"}, 0.5, 0.7, types.NeutralPrediction())
	r.Rank(context.Background(), flow, Inputs{})
	now = now.Add(24 * time.Hour)
	op = r.Rank(context.Background(), tech, Inputs{})
	assert.Equal(t, 1.0, op.Breakdown.Multipliers[4].Value, "flow on the other side does not corroborate")
}

func TestComponentScores(t *testing.T) {
	assert.Equal(t, 0.2, riskRewardScore(0.5))
	assert.InDelta(t, 0.6, riskRewardScore(3), 1e-12)
	assert.Equal(t, 1.0, riskRewardScore(9))

	at := func(h int) time.Time { return time.Date(2026, 1, 5, h, 0, 0, 0, time.UTC) }
	assert.InDelta(t, 0.8, timingScore(types.AssetEquity, "breakout", at(10)), 1e-12)
	assert.InDelta(t, 0.5, timingScore(types.AssetEquity, "mean_reversion", at(13)), 1e-12)
	assert.InDelta(t, 0.6, timingScore(types.AssetCrypto, "", at(12)), 1e-12)
	assert.InDelta(t, 0.6, timingScore(types.AssetForex, "", at(2)), 1e-12)

	assert.Equal(t, 0.9, liquidityScore(2.5))
	assert.Equal(t, 0.6, liquidityScore(0))
	assert.Equal(t, 0.4, liquidityScore(0.5))

	pos := func(sym string, c types.AssetClass) types.Position { return types.Position{Symbol: sym, AssetClass: c} }
	assert.Equal(t, 0.8, diversificationScore("A", types.AssetEquity, nil))
	assert.Equal(t, 0.2, diversificationScore("A", types.AssetEquity, []types.Position{pos("A", types.AssetEquity)}))
	assert.Equal(t, 0.4, diversificationScore("B", types.AssetEquity, []types.Position{pos("A", types.AssetEquity)}))
	assert.Equal(t, 0.6, diversificationScore("C", types.AssetEquity, []types.Position{pos("A", types.AssetEquity), pos("X", types.AssetCrypto)}))
	assert.Equal(t, 0.8, diversificationScore("C", types.AssetEquity, []types.Position{pos("X", types.AssetForex), pos("Y", types.AssetCrypto)}))
}
