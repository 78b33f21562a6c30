package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/pipeline"
	"tradeloop/internal/pipeline/middlewares"
	"tradeloop/internal/types"
)

var log = logger.Named("Validator")

const neutral = 0.5

// Config holds the gate thresholds and composite weights.
type Config struct {
	MinBars        int           `yaml:"min_bars"`
	Period         string        `yaml:"period"`
	Granularity    string        `yaml:"granularity"`
	MinComposite   float64       `yaml:"min_composite"`
	MinTrend       float64       `yaml:"min_trend"`
	TrendWeight    float64       `yaml:"trend_weight"`
	MomentumWeight float64       `yaml:"momentum_weight"`
	VolumeWeight   float64       `yaml:"volume_weight"`
	RiskWeight     float64       `yaml:"risk_weight"`
	StageTimeout   time.Duration `yaml:"stage_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MinBars:        50,
		Period:         "1y",
		Granularity:    "1d",
		MinComposite:   0.50,
		MinTrend:       0.40,
		TrendWeight:    0.30,
		MomentumWeight: 0.30,
		VolumeWeight:   0.20,
		RiskWeight:     0.20,
		StageTimeout:   5 * time.Second,
	}
}

// Validator scores candidates on trend, momentum, volume and volatility and
// applies the first hard gate of the pipeline.
type Validator struct {
	cfg      Config
	data     market.Fetcher
	pipeline *pipeline.Pipeline
	now      func() time.Time
}

func New(data market.Fetcher, cfg Config, extra ...pipeline.Middleware) *Validator {
	d := DefaultConfig()
	if cfg.MinBars <= 0 {
		cfg.MinBars = d.MinBars
	}
	if cfg.Period == "" {
		cfg.Period = d.Period
	}
	if cfg.Granularity == "" {
		cfg.Granularity = d.Granularity
	}
	if cfg.TrendWeight+cfg.MomentumWeight+cfg.VolumeWeight+cfg.RiskWeight == 0 {
		cfg.TrendWeight, cfg.MomentumWeight, cfg.VolumeWeight, cfg.RiskWeight =
			d.TrendWeight, d.MomentumWeight, d.VolumeWeight, d.RiskWeight
	}
	mws := append(middlewares.Defaults(cfg.StageTimeout), extra...)
	return &Validator{
		cfg:      cfg,
		data:     data,
		pipeline: pipeline.New("validator", mws...),
		now:      time.Now,
	}
}

// Composite is the weighted blend; volatility counts inverted.
func (v *Validator) Composite(trend, momentum, volume, volRisk float64) float64 {
	c := v.cfg
	return c.TrendWeight*trend + c.MomentumWeight*momentum + c.VolumeWeight*volume + c.RiskWeight*(1-volRisk)
}

// Passes is the gate: composite > MinComposite and trend > MinTrend.
func (v *Validator) Passes(s types.ValidationScores) bool {
	return s.Composite > v.cfg.MinComposite && s.Trend > v.cfg.MinTrend
}

// Validate enriches c with validation scores. passed=false means the
// candidate must be dropped. Missing data degrades sub-scores to 0.5; the
// only error is a cancelled context.
func (v *Validator) Validate(ctx context.Context, c types.RawCandidate) (types.ValidatedCandidate, bool, error) {
	out := types.ValidatedCandidate{RawCandidate: c, ValidatedAt: v.now()}
	series, err := v.data.Fetch(ctx, market.Request{
		Symbol:      c.Symbol,
		AssetClass:  c.AssetClass,
		Period:      v.cfg.Period,
		Granularity: v.cfg.Granularity,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return out, false, ctx.Err()
			}
		}
		out.Warnings = append(out.Warnings, fmt.Sprintf("data unavailable: %v", err))
		log.Debugf("%s data unavailable, scoring neutral: %v", c.Symbol, err)
	}
	if err == nil && series.Len() < v.cfg.MinBars {
		out.Warnings = append(out.Warnings, fmt.Sprintf("insufficient bars: %d < %d", series.Len(), v.cfg.MinBars))
		series = market.Series{}
	}

	ac := pipeline.NewContext(c.Symbol, c.Side, series)
	if series.Len() > 0 {
		if perr := v.pipeline.Run(ctx, ac); perr != nil && pipeline.IsCritical(perr) {
			log.Warnf("%s critical middleware failed: %v", c.Symbol, perr)
		}
	}
	scores := types.ValidationScores{
		Trend:          scoreOr(ac, middlewares.ScoreTrend),
		Momentum:       scoreOr(ac, middlewares.ScoreMomentum),
		Volume:         scoreOr(ac, middlewares.ScoreVolume),
		VolatilityRisk: scoreOr(ac, middlewares.ScoreVolatilityRisk),
	}
	scores.Composite = v.Composite(scores.Trend, scores.Momentum, scores.Volume, scores.VolatilityRisk)
	out.Validation = scores
	out.BlendedConfidence = (c.Confidence + scores.Composite) / 2
	out.Warnings = append(out.Warnings, ac.Warnings()...)
	if lv, ok := ac.Metadata()[middlewares.LevelsKey].(types.Levels); ok {
		out.Levels = lv
	}
	out.Notes = ac.Evidence()
	out.Readings = ac.Readings()
	if vr, ok := ac.MetadataFloat("volume_ratio"); ok {
		out.MeasuredVolumeRatio = vr
	}
	return out, v.Passes(scores), nil
}

func scoreOr(ac *pipeline.AnalysisContext, key string) float64 {
	if v, ok := ac.Score(key); ok {
		return v
	}
	return neutral
}
