package middlewares

import (
	"context"
	"fmt"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/pipeline"
	"tradeloop/internal/types"
)

// MomentumMiddleware scores RSI zone, MACD and stochastic crosses, and ROC(10).
type MomentumMiddleware struct {
	meta pipeline.MiddlewareMeta
}

func NewMomentum(cfg Config) *MomentumMiddleware {
	return &MomentumMiddleware{meta: cfg.meta("momentum")}
}

func (m *MomentumMiddleware) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *MomentumMiddleware) Handle(ctx context.Context, ac *pipeline.AnalysisContext) error {
	s := ac.Series()
	closes := s.Closes()
	rsi, ok := indicator.RSI(closes, 14)
	if !ok {
		return insufficient("momentum", 15, len(closes))
	}
	dir := 1.0
	if ac.Side == types.SideShort {
		dir = -1
	}

	score := 0.1
	switch {
	case rsi >= 40 && rsi <= 60:
		score = 0.3
	case rsi >= 30 && rsi <= 70:
		score = 0.2
	}
	macd, okMACD := indicator.MACD(closes)
	if okMACD {
		if dir*(macd.Line-macd.Signal) > 0 {
			score += 0.2
		}
		if dir*macd.Hist > 0 {
			score += 0.15
		}
	}
	stoch, okStoch := indicator.Stoch(s.Highs(), s.Lows(), closes)
	if okStoch {
		if dir*(stoch.K-stoch.D) > 0 {
			score += 0.15
		}
		if stoch.K > 20 && stoch.K < 80 {
			score += 0.1
		}
	}
	if roc, okROC := indicator.ROC(closes, 10); okROC && dir*roc > 0 {
		score += 0.1
	}
	score = capUnit(score)
	ac.SetScore(ScoreMomentum, score)
	ac.SetMetadata("rsi", rsi)
	ac.AddReading(types.Reading{
		Key:   "momentum",
		Label: "Momentum",
		Value: score,
		Inputs: map[string]float64{
			"rsi": rsi, "macd": macd.Line, "macd_signal": macd.Signal, "macd_hist": macd.Hist,
			"stoch_k": stoch.K, "stoch_d": stoch.D,
		},
	})
	if okMACD && dir*(macd.Hist-macd.PrevHist) > 0 && dir*macd.PrevHist <= 0 && dir*macd.Hist > 0 {
		ac.AddEvidence(fmt.Sprintf("fresh MACD cross in %s direction", ac.Side))
	}
	return nil
}
