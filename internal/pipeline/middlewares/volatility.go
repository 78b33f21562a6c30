package middlewares

import (
	"context"
	"math"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/pipeline"
	"tradeloop/internal/types"
)

// VolatilityMiddleware produces a risk score, higher meaning riskier:
// min((ATR% * 20 + BB width * 10 + annualized volatility) / 3, 1).
type VolatilityMiddleware struct {
	meta pipeline.MiddlewareMeta
}

func NewVolatility(cfg Config) *VolatilityMiddleware {
	return &VolatilityMiddleware{meta: cfg.meta("volatility")}
}

func (m *VolatilityMiddleware) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *VolatilityMiddleware) Handle(ctx context.Context, ac *pipeline.AnalysisContext) error {
	s := ac.Series()
	closes := s.Closes()
	atr, ok := indicator.ATR(s.Highs(), s.Lows(), closes, 14)
	if !ok {
		return insufficient("volatility", 15, len(closes))
	}
	price := closes[len(closes)-1]
	if price <= 0 {
		return insufficient("volatility", 1, 0)
	}
	bands, okBands := indicator.Bollinger(closes, 20, 2)
	if !okBands {
		return insufficient("volatility", 20, len(closes))
	}
	atrPct := atr / price
	bbWidth := (bands.Upper - bands.Lower) / price
	hv, _ := indicator.Volatility(closes, len(closes)-1)
	annual := hv * math.Sqrt(252)
	risk := math.Min((atrPct*20+bbWidth*10+annual)/3, 1)
	if risk < 0 {
		risk = 0
	}
	ac.SetScore(ScoreVolatilityRisk, risk)
	ac.SetMetadata("atr_pct", atrPct)
	ac.AddReading(types.Reading{
		Key:   "volatility",
		Label: "Volatility risk",
		Value: risk,
		Inputs: map[string]float64{
			"atr": atr, "atr_pct": atrPct, "bb_width": bbWidth, "hist_volatility": annual,
		},
	})
	return nil
}
