package ranker

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/types"
)

var log = logger.Named("Ranker")

// Config holds the ranker's gates and multiplier bands.
type Config struct {
	MinRiskReward float64 `yaml:"min_risk_reward"`
	MinConfidence float64 `yaml:"min_confidence"`

	MarketWeightMin float64 `yaml:"market_weight_min"`
	MarketWeightMax float64 `yaml:"market_weight_max"`
	StrategyMin     float64 `yaml:"strategy_min"`
	StrategyMax     float64 `yaml:"strategy_max"`
	DisabledPenalty float64 `yaml:"disabled_penalty"`

	TechnicalThreshold  float64 `yaml:"technical_threshold"`
	TechnicalBonus      float64 `yaml:"technical_bonus"`
	PredictiveThreshold float64 `yaml:"predictive_threshold"`
	PredictiveBonus     float64 `yaml:"predictive_bonus"`

	AdjustTimeout time.Duration `yaml:"adjust_timeout"`
	// Timezone the timing score reads hours in.
	Timezone   string           `yaml:"timezone"`
	Confluence ConfluenceConfig `yaml:"confluence"`
}

func DefaultConfig() Config {
	return Config{
		MinRiskReward:       2.0,
		MinConfidence:       0.65,
		MarketWeightMin:     0.40,
		MarketWeightMax:     1.30,
		StrategyMin:         0.85,
		StrategyMax:         1.25,
		DisabledPenalty:     0.5,
		TechnicalThreshold:  0.70,
		TechnicalBonus:      1.10,
		PredictiveThreshold: 0.60,
		PredictiveBonus:     1.08,
		AdjustTimeout:       2 * time.Second,
		Timezone:            "America/New_York",
		Confluence:          DefaultConfluenceConfig(),
	}
}

// StrategyLookup reports a strategy's configured bonus. known is false for
// strategies the table has never seen.
type StrategyLookup interface {
	Lookup(name string) (bonus float64, enabled, known bool)
}

// Inputs is the per-call state the ranker needs from other owners. The
// coordinator assembles it from its learners and the executor snapshot.
type Inputs struct {
	Positions    []types.Position
	Weights      map[string]float64
	MarketWeight float64
}

// Option customizes a Ranker.
type Option func(*Ranker)

func WithClock(now func() time.Time) Option { return func(r *Ranker) { r.now = now } }

// WithTiming replaces the hour-of-day timing component.
func WithTiming(fn func(types.AssetClass, string, time.Time) float64) Option {
	return func(r *Ranker) { r.timing = fn }
}

// Ranker turns scored candidates into ranked opportunities.
type Ranker struct {
	cfg        Config
	loc        *time.Location
	strategies StrategyLookup
	confluence *Confluence
	adjuster   ContextAdjuster
	now        func() time.Time
	timing     func(types.AssetClass, string, time.Time) float64
}

func New(cfg Config, strategies StrategyLookup, adjuster ContextAdjuster, opts ...Option) *Ranker {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	if adjuster == nil {
		adjuster = NeutralAdjuster{}
	}
	r := &Ranker{
		cfg:        cfg,
		loc:        loc,
		strategies: strategies,
		confluence: NewConfluence(cfg.Confluence),
		adjuster:   adjuster,
		now:        time.Now,
		timing:     timingScore,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tradeable is the gate applied before ranking.
func (r *Ranker) Tradeable(sc types.ScoredCandidate) error {
	if rr := sc.RiskReward(); rr < r.cfg.MinRiskReward {
		return fmt.Errorf("risk/reward %.2f < %.2f", rr, r.cfg.MinRiskReward)
	}
	if sc.FinalConfidence < r.cfg.MinConfidence {
		return fmt.Errorf("confidence %.2f < %.2f", sc.FinalConfidence, r.cfg.MinConfidence)
	}
	return nil
}

// Observe lets the confluence tracker see a candidate that may corroborate
// later ones, even if it never reaches ranking itself.
func (r *Ranker) Observe(c types.RawCandidate) bool {
	return r.confluence.Observe(c, r.now())
}

// Components computes the five sub-scores.
func (r *Ranker) Components(sc types.ScoredCandidate, positions []types.Position) types.Components {
	return types.Components{
		RiskReward:      riskRewardScore(sc.RiskReward()),
		Confidence:      clamp(sc.FinalConfidence, 0, 1),
		Timing:          clamp(r.timing(sc.AssetClass, sc.Strategy, r.now().In(r.loc)), 0, 1),
		Liquidity:       liquidityScore(sc.LiquidityRatio()),
		Diversification: diversificationScore(sc.Symbol, sc.AssetClass, positions),
	}
}

// Rank scores one candidate. It never fails; a failing context adjuster
// contributes 1.0.
func (r *Ranker) Rank(ctx context.Context, sc types.ScoredCandidate, in Inputs) types.RankedOpportunity {
	now := r.now()
	corroborating := r.confluence.Observe(sc.RawCandidate, now)
	comps := r.Components(sc, in.Positions)

	mults := make([]types.Multiplier, 0, 6)
	mults = append(mults, types.Multiplier{Name: "market_weight", Value: r.marketMultiplier(in.MarketWeight)})
	mults = append(mults, types.Multiplier{Name: "strategy", Value: r.strategyMultiplier(sc.Strategy)})

	tech := 1.0
	if sc.Validation.Composite > r.cfg.TechnicalThreshold {
		tech = r.cfg.TechnicalBonus
	}
	mults = append(mults, types.Multiplier{Name: "technical", Value: tech})

	pred := 1.0
	if sc.Prediction.Matches(sc.Side) && sc.Prediction.Confidence > r.cfg.PredictiveThreshold {
		pred = r.cfg.PredictiveBonus
	}
	mults = append(mults, types.Multiplier{Name: "predictive", Value: pred})

	conf := 1.0
	if !corroborating {
		var why string
		if conf, why = r.confluence.Bonus(sc.RawCandidate, now); why != "" {
			log.Debugf("%s: %s x%.2f", sc.Symbol, why, conf)
		}
	}
	mults = append(mults, types.Multiplier{Name: "confluence", Value: conf})
	mults = append(mults, types.Multiplier{Name: "context", Value: r.contextMultiplier(ctx, sc)})

	b := Compose(comps, in.Weights, mults)
	return types.RankedOpportunity{
		ScoredCandidate: sc,
		Score:           b.Final,
		Breakdown:       b,
		RankedAt:        now,
	}
}

// Compose is the scoring law: final = min(base * product(multipliers), 1).
// Missing weights fall back to DefaultWeights.
func Compose(c types.Components, weights map[string]float64, mults []types.Multiplier) types.ScoreBreakdown {
	w := make(map[string]float64, len(types.ComponentNames))
	vals := c.Map()
	base := 0.0
	for _, name := range types.ComponentNames {
		wt, ok := weights[name]
		if !ok {
			wt = DefaultWeights[name]
		}
		w[name] = wt
		base += wt * vals[name]
	}
	product := 1.0
	for _, m := range mults {
		product *= m.Value
	}
	final := math.Min(base*product, 1)
	if final < 0 {
		final = 0
	}
	return types.ScoreBreakdown{
		Components:  c,
		Weights:     w,
		Base:        base,
		Multipliers: append([]types.Multiplier(nil), mults...),
		Product:     product,
		Final:       final,
	}
}

func (r *Ranker) marketMultiplier(w float64) float64 {
	if w <= 0 {
		w = 1
	}
	return clamp(w, r.cfg.MarketWeightMin, r.cfg.MarketWeightMax)
}

func (r *Ranker) strategyMultiplier(name string) float64 {
	if r.strategies == nil || name == "" {
		return 1
	}
	bonus, enabled, known := r.strategies.Lookup(name)
	if !known {
		return 1
	}
	if !enabled {
		bonus = r.cfg.DisabledPenalty
	}
	return clamp(bonus, r.cfg.StrategyMin, r.cfg.StrategyMax)
}

func (r *Ranker) contextMultiplier(ctx context.Context, sc types.ScoredCandidate) float64 {
	if r.cfg.AdjustTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AdjustTimeout)
		defer cancel()
	}
	v, err := r.adjuster.Adjust(ctx, sc)
	if err != nil {
		log.Warnf("context adjuster failed for %s: %v", sc.Symbol, err)
		return 1
	}
	return clampAdjust(v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
