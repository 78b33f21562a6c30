package scanner

import (
	"context"
	"fmt"
	"time"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/market"
	"tradeloop/internal/types"

	"github.com/markcheno/go-talib"
)

type BreakoutConfig struct {
	Universe Universe `yaml:"universe"`
	// Lookback is the channel length in bars.
	Lookback  int     `yaml:"lookback"`
	MinVolume float64 `yaml:"min_volume_ratio"`
	TargetR   float64 `yaml:"target_r"`
}

func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{Lookback: 20, MinVolume: 1.5, TargetR: 3}
}

// Breakout emits a candidate when the last close leaves the prior Lookback
// bars' high/low channel on above-average volume. The stop is the channel
// midpoint.
type Breakout struct {
	name string
	cfg  BreakoutConfig
	data market.Fetcher
	now  func() time.Time
}

func NewBreakout(name string, cfg BreakoutConfig, data market.Fetcher) *Breakout {
	d := DefaultBreakoutConfig()
	if cfg.Lookback <= 1 {
		cfg.Lookback = d.Lookback
	}
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = d.MinVolume
	}
	if cfg.TargetR <= 0 {
		cfg.TargetR = d.TargetR
	}
	if name == "" {
		name = "breakout"
	}
	return &Breakout{name: name, cfg: cfg, data: data, now: time.Now}
}

func (b *Breakout) Name() string { return b.name }

func (b *Breakout) Scan(ctx context.Context) ([]types.RawCandidate, error) {
	return scanEach(ctx, b.data, b.cfg.Universe, b.now, b.detect)
}

func (b *Breakout) detect(req market.Request, s market.Series) (types.CandidateSpec, bool) {
	n := s.Len()
	if n < b.cfg.Lookback+2 {
		return types.CandidateSpec{}, false
	}
	// channel over the bars before the last one
	highs := talib.Max(s.Highs()[:n-1], b.cfg.Lookback)
	lows := talib.Min(s.Lows()[:n-1], b.cfg.Lookback)
	upper, lower := highs[len(highs)-1], lows[len(lows)-1]
	if !finite(upper, lower) || upper <= lower {
		return types.CandidateSpec{}, false
	}
	vr, ok := indicator.VolumeRatio(s.Volumes(), b.cfg.Lookback)
	if !ok || vr < b.cfg.MinVolume {
		return types.CandidateSpec{}, false
	}

	last, _ := s.Last()
	mid := (upper + lower) / 2
	var side types.Side
	var level float64
	switch {
	case last.Close > upper:
		side, level = types.SideLong, upper
	case last.Close < lower:
		side, level = types.SideShort, lower
	default:
		return types.CandidateSpec{}, false
	}
	risk := last.Close - mid
	if side == types.SideShort {
		risk = mid - last.Close
	}
	if risk <= 0 {
		return types.CandidateSpec{}, false
	}
	target := last.Close + b.cfg.TargetR*risk
	if side == types.SideShort {
		target = last.Close - b.cfg.TargetR*risk
	}
	if target <= 0 {
		return types.CandidateSpec{}, false
	}
	conf := indicator.Clamp01(0.55 + 0.1*(vr-b.cfg.MinVolume))
	if conf > 0.85 {
		conf = 0.85
	}
	return types.CandidateSpec{
		Symbol:      req.Symbol,
		AssetClass:  req.AssetClass,
		Side:        side,
		Entry:       last.Close,
		Stop:        mid,
		Target:      target,
		Confidence:  conf,
		Strategy:    "breakout",
		Evidence:    []string{fmt.Sprintf("close %.4f through %d-bar level %.4f", last.Close, b.cfg.Lookback, level), fmt.Sprintf("volume x%.2f", vr)},
		VolumeRatio: vr,
	}, true
}
