package middlewares

import (
	"context"
	"fmt"
	"math"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/pipeline"
	"tradeloop/internal/types"
)

// TrendMiddleware scores trend alignment with the candidate's side: price
// against EMA20/EMA50/SMA200 (SMA100 when history is short), the stacking of
// those averages, and ADX strength.
type TrendMiddleware struct {
	meta pipeline.MiddlewareMeta
}

func NewTrend(cfg Config) *TrendMiddleware {
	return &TrendMiddleware{meta: cfg.meta("trend")}
}

func (m *TrendMiddleware) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *TrendMiddleware) Handle(ctx context.Context, ac *pipeline.AnalysisContext) error {
	s := ac.Series()
	closes := s.Closes()
	if len(closes) < 50 {
		return insufficient("trend", 50, len(closes))
	}
	price := closes[len(closes)-1]
	ema20, ok20 := indicator.EMA(closes, 20)
	ema50, ok50 := indicator.EMA(closes, 50)
	longPeriod := 200
	slow, okSlow := indicator.SMA(closes, longPeriod)
	if !okSlow {
		longPeriod = 100
		slow, okSlow = indicator.SMA(closes, longPeriod)
	}
	if !ok20 || !ok50 {
		return fmt.Errorf("trend: moving averages unavailable")
	}

	// dir is +1 when the candidate wants price to rise.
	dir := 1.0
	if ac.Side == types.SideShort {
		dir = -1
	}
	with := func(a, b float64) bool { return dir*(a-b) > 0 }

	score := 0.0
	if with(price, ema20) {
		score += 0.2
	}
	if with(price, ema50) {
		score += 0.2
	}
	if okSlow && with(price, slow) {
		score += 0.2
	}
	if with(ema20, ema50) {
		score += 0.15
	}
	if okSlow && with(ema50, slow) {
		score += 0.15
	}
	adx, okADX := indicator.ADX(s.Highs(), s.Lows(), closes, 14)
	if okADX {
		score += math.Min(adx/50, 1) * 0.3
	}
	score = capUnit(score)
	ac.SetScore(ScoreTrend, score)
	ac.AddReading(types.Reading{
		Key:   "trend",
		Label: "Trend alignment",
		Value: score,
		Inputs: map[string]float64{
			"ema20": ema20, "ema50": ema50, "slow_period": float64(longPeriod), "slow": slow, "adx": adx,
		},
	})
	if okADX {
		ac.SetMetadata("adx", adx)
	}
	if score >= 0.7 {
		ac.AddEvidence(fmt.Sprintf("trend aligned with %s (%.2f)", ac.Side, score))
	}
	return nil
}
