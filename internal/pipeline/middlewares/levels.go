package middlewares

import (
	"context"
	"sort"

	"tradeloop/internal/pipeline"
	"tradeloop/internal/types"
)

// LevelsKey is the metadata key holding the computed types.Levels.
const LevelsKey = "levels"

// LevelsMiddleware derives pivot support/resistance plus the three most
// recent five-bar swing highs and lows.
type LevelsMiddleware struct {
	meta pipeline.MiddlewareMeta
}

func NewLevels(cfg Config) *LevelsMiddleware {
	return &LevelsMiddleware{meta: cfg.meta("levels")}
}

func (m *LevelsMiddleware) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *LevelsMiddleware) Handle(ctx context.Context, ac *pipeline.AnalysisContext) error {
	s := ac.Series()
	last, ok := s.Last()
	if !ok || s.Len() < 5 {
		return insufficient("levels", 5, s.Len())
	}
	highs, lows := s.Highs(), s.Lows()
	pivot := (last.High + last.Low + last.Close) / 3
	span := last.High - last.Low
	lv := types.Levels{
		Pivot: pivot,
		R1:    2*pivot - last.Low,
		R2:    pivot + span,
		S1:    2*pivot - last.High,
		S2:    pivot - span,
	}
	var swingHighs, swingLows []float64
	for i := 2; i < len(highs)-2; i++ {
		if highs[i] > highs[i-1] && highs[i] > highs[i-2] && highs[i] > highs[i+1] && highs[i] > highs[i+2] {
			swingHighs = append(swingHighs, highs[i])
		}
		if lows[i] < lows[i-1] && lows[i] < lows[i-2] && lows[i] < lows[i+1] && lows[i] < lows[i+2] {
			swingLows = append(swingLows, lows[i])
		}
	}
	resistance := append([]float64{lv.R1, lv.R2}, tail(swingHighs, 3)...)
	support := append([]float64{lv.S1, lv.S2}, tail(swingLows, 3)...)
	sort.Float64s(resistance)
	sort.Float64s(support)

	price := last.Close
	lv.NearestResistance = lv.R1
	for _, r := range resistance {
		if r > price {
			lv.NearestResistance = r
			break
		}
	}
	lv.NearestSupport = lv.S1
	for i := len(support) - 1; i >= 0; i-- {
		if support[i] < price {
			lv.NearestSupport = support[i]
			break
		}
	}
	ac.SetMetadata(LevelsKey, lv)
	return nil
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
