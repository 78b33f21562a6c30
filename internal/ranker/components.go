package ranker

import (
	"strings"
	"time"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/types"
)

// DefaultWeights are the component weights before any learning.
var DefaultWeights = map[string]float64{
	"risk_reward":     0.30,
	"confidence":      0.25,
	"timing":          0.20,
	"liquidity":       0.15,
	"diversification": 0.10,
}

// riskRewardScore maps 1:1 to 0.2 and 5:1 to 1.0 linearly.
func riskRewardScore(rr float64) float64 {
	v := 0.2 + (rr-1)*0.2
	if v < 0.2 {
		return 0.2
	}
	if v > 1 {
		return 1
	}
	return v
}

// timingScore rates the wall-clock hour (exchange time) for the asset class
// and strategy style.
func timingScore(class types.AssetClass, strategy string, now time.Time) float64 {
	hour := now.Hour()
	score := 0.5
	switch class {
	case types.AssetEquity, types.AssetOption:
		if (hour >= 9 && hour <= 11) || (hour >= 15 && hour <= 16) {
			score += 0.2
		} else if hour >= 12 && hour <= 14 {
			score -= 0.1
		}
	case types.AssetCrypto:
		if hour >= 8 && hour <= 17 {
			score += 0.1
		}
	case types.AssetForex:
		if hour >= 8 && hour <= 12 {
			score += 0.2
		} else if hour <= 3 {
			score += 0.1
		}
	}
	s := strings.ToLower(strategy)
	if strings.Contains(s, "breakout") && (hour == 9 || hour == 10 || hour == 15) {
		score += 0.1
	}
	if strings.Contains(s, "mean_reversion") && hour >= 11 && hour <= 14 {
		score += 0.1
	}
	return indicator.Clamp01(score)
}

// liquidityScore buckets the volume ratio. Unknown volume counts as average.
func liquidityScore(ratio float64) float64 {
	if ratio <= 0 {
		ratio = 1
	}
	switch {
	case ratio >= 2:
		return 0.9
	case ratio >= 1.5:
		return 0.75
	case ratio >= 1:
		return 0.6
	default:
		return 0.4
	}
}

// diversificationScore penalizes duplicate symbols and asset-class concentration.
func diversificationScore(symbol string, class types.AssetClass, positions []types.Position) float64 {
	if len(positions) == 0 {
		return 0.8
	}
	same := 0
	for _, p := range positions {
		if p.Symbol == symbol {
			return 0.2
		}
		if p.AssetClass == class {
			same++
		}
	}
	concentration := float64(same) / float64(len(positions))
	switch {
	case concentration > 0.6:
		return 0.4
	case concentration > 0.4:
		return 0.6
	default:
		return 0.8
	}
}
