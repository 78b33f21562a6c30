package middlewares

import (
	"context"
	"fmt"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/pipeline"
	"tradeloop/internal/types"
)

// VolumeMiddleware scores participation: current vs 20-bar average, the 5 vs
// prior-15 bar trend, volume on with-side bars vs against-side bars, and a
// minimum absolute liquidity.
type VolumeMiddleware struct {
	meta         pipeline.MiddlewareMeta
	minLiquidity float64
}

func NewVolume(cfg Config) *VolumeMiddleware {
	return &VolumeMiddleware{meta: cfg.meta("volume"), minLiquidity: 100_000}
}

func (m *VolumeMiddleware) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *VolumeMiddleware) Handle(ctx context.Context, ac *pipeline.AnalysisContext) error {
	s := ac.Series()
	vols := s.Volumes()
	closes := s.Closes()
	if len(vols) < 21 {
		return insufficient("volume", 21, len(vols))
	}
	cur := vols[len(vols)-1]
	avg20 := indicator.Mean(vols[len(vols)-20:])
	if avg20 <= 0 {
		return fmt.Errorf("volume: no volume reported")
	}
	ratio := cur / avg20
	trend := 1.0
	if prior := indicator.Mean(vols[len(vols)-20 : len(vols)-5]); prior > 0 {
		trend = indicator.Mean(vols[len(vols)-5:]) / prior
	}

	var withVol, againstVol float64
	rets := indicator.Returns(closes)
	for i := len(rets) - 5; i < len(rets); i++ {
		r := rets[i]
		if ac.Side == types.SideShort {
			r = -r
		}
		v := vols[i+1]
		switch {
		case r > 0:
			withVol += v
		case r < 0:
			againstVol += v
		}
	}
	pv := 2.0
	if againstVol > 0 {
		pv = withVol / againstVol
	}

	score := 0.1
	switch {
	case ratio > 1.5:
		score = 0.3
	case ratio > 1.0:
		score = 0.2
	}
	switch {
	case trend > 1.2:
		score += 0.25
	case trend > 1.0:
		score += 0.15
	}
	switch {
	case pv > 1.5:
		score += 0.25
	case pv > 1.0:
		score += 0.15
	}
	if cur > m.minLiquidity {
		score += 0.2
	}
	score = capUnit(score)
	ac.SetScore(ScoreVolume, score)
	ac.SetMetadata("volume_ratio", ratio)
	ac.AddReading(types.Reading{
		Key:    "volume",
		Label:  "Volume",
		Value:  score,
		Inputs: map[string]float64{"ratio": ratio, "trend": trend, "pv_ratio": pv},
	})
	if ratio > 1.5 {
		ac.AddEvidence(fmt.Sprintf("volume %.1fx 20-bar average", ratio))
	}
	return nil
}
