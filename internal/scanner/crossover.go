package scanner

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/market"
	"tradeloop/internal/types"

	"github.com/markcheno/go-talib"
)

// CrossoverConfig tunes the EMA crossover detector.
type CrossoverConfig struct {
	Universe   Universe `yaml:"universe"`
	Fast       int      `yaml:"fast"`
	Slow       int      `yaml:"slow"`
	ATRPeriod  int      `yaml:"atr_period"`
	StopATR    float64  `yaml:"stop_atr"`
	TargetATR  float64  `yaml:"target_atr"`
	AllowShort bool     `yaml:"allow_short"`
}

func DefaultCrossoverConfig() CrossoverConfig {
	return CrossoverConfig{Fast: 9, Slow: 21, ATRPeriod: 14, StopATR: 1.5, TargetATR: 4.0, AllowShort: true}
}

// Crossover emits a candidate on the bar where the fast EMA crosses the slow
// one. Stops and targets are ATR multiples from the last close.
type Crossover struct {
	name string
	cfg  CrossoverConfig
	data market.Fetcher
	now  func() time.Time
}

func NewCrossover(name string, cfg CrossoverConfig, data market.Fetcher) *Crossover {
	d := DefaultCrossoverConfig()
	if cfg.Fast <= 0 {
		cfg.Fast = d.Fast
	}
	if cfg.Slow <= cfg.Fast {
		cfg.Slow = d.Slow
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = d.ATRPeriod
	}
	if cfg.StopATR <= 0 {
		cfg.StopATR = d.StopATR
	}
	if cfg.TargetATR <= 0 {
		cfg.TargetATR = d.TargetATR
	}
	if name == "" {
		name = "ema_crossover"
	}
	return &Crossover{name: name, cfg: cfg, data: data, now: time.Now}
}

func (c *Crossover) Name() string { return c.name }

func (c *Crossover) Scan(ctx context.Context) ([]types.RawCandidate, error) {
	return scanEach(ctx, c.data, c.cfg.Universe, c.now, c.detect)
}

func (c *Crossover) detect(req market.Request, s market.Series) (types.CandidateSpec, bool) {
	closes := s.Closes()
	if len(closes) < c.cfg.Slow+2 {
		return types.CandidateSpec{}, false
	}
	fast := talib.Ema(closes, c.cfg.Fast)
	slow := talib.Ema(closes, c.cfg.Slow)
	n := len(closes)
	prevDiff := fast[n-2] - slow[n-2]
	diff := fast[n-1] - slow[n-1]
	if !finite(prevDiff, diff) {
		return types.CandidateSpec{}, false
	}

	var side types.Side
	switch {
	case prevDiff <= 0 && diff > 0:
		side = types.SideLong
	case prevDiff >= 0 && diff < 0 && c.cfg.AllowShort:
		side = types.SideShort
	default:
		return types.CandidateSpec{}, false
	}

	atr, ok := indicator.ATR(s.Highs(), s.Lows(), closes, c.cfg.ATRPeriod)
	if !ok || atr <= 0 {
		return types.CandidateSpec{}, false
	}
	entry := closes[n-1]
	stop, target := entry-c.cfg.StopATR*atr, entry+c.cfg.TargetATR*atr
	if side == types.SideShort {
		stop, target = entry+c.cfg.StopATR*atr, entry-c.cfg.TargetATR*atr
	}
	if stop <= 0 || target <= 0 {
		return types.CandidateSpec{}, false
	}

	// separation relative to price, saturating at 2%
	conf := 0.5 + math.Min(math.Abs(diff)/entry/0.02, 1)*0.3
	evidence := []string{fmt.Sprintf("EMA%d crossed %s EMA%d", c.cfg.Fast, side.Direction(), c.cfg.Slow)}
	if adx, ok := indicator.ADX(s.Highs(), s.Lows(), closes, 14); ok {
		evidence = append(evidence, fmt.Sprintf("ADX %.1f", adx))
		if adx > 25 {
			conf += 0.1
		}
	}
	vr, _ := indicator.VolumeRatio(s.Volumes(), 20)
	return types.CandidateSpec{
		Symbol:      req.Symbol,
		AssetClass:  req.AssetClass,
		Side:        side,
		Entry:       entry,
		Stop:        stop,
		Target:      target,
		Confidence:  indicator.Clamp01(conf),
		Strategy:    "ema_crossover",
		Evidence:    evidence,
		VolumeRatio: vr,
	}, true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
