// Package components learns the ranker's component weights by comparing
// how each sub-score looked on winning versus losing trades.
package components

import (
	"time"

	"tradeloop/internal/learning"
	"tradeloop/internal/logger"
	"tradeloop/internal/types"
)

var log = logger.Named("ComponentLearner")

type Config struct {
	MinTrades    int                `yaml:"min_trades"`
	Interval     time.Duration      `yaml:"interval"`
	Window       time.Duration      `yaml:"window"`
	LearningRate float64            `yaml:"learning_rate"`
	MinWeight    float64            `yaml:"min_weight"`
	MaxWeight    float64            `yaml:"max_weight"`
	ArchiveCap   int                `yaml:"archive_cap"`
	Defaults     map[string]float64 `yaml:"defaults"`
	Guard        learning.Guard     `yaml:"guard"`
}

func DefaultConfig() Config {
	return Config{
		MinTrades:    20,
		Interval:     24 * time.Hour,
		Window:       90 * 24 * time.Hour,
		LearningRate: 1.0,
		MinWeight:    0.05,
		MaxWeight:    0.40,
		ArchiveCap:   500,
		Defaults: map[string]float64{
			"risk_reward":     0.30,
			"confidence":      0.25,
			"timing":          0.20,
			"liquidity":       0.15,
			"diversification": 0.10,
		},
		Guard: learning.DefaultGuard(),
	}
}

// Outcome is one closed trade's component values and result.
type Outcome struct {
	TradeID    string             `json:"trade_id"`
	Components map[string]float64 `json:"components"`
	Won        bool               `json:"won"`
	ClosedAt   time.Time          `json:"closed_at"`
}

type State struct {
	Weights   map[string]float64 `json:"weights"`
	Outcomes  []Outcome          `json:"outcomes"`
	LastAdapt time.Time          `json:"last_adapt"`
}

// Learner owns the component weight map.
type Learner struct {
	cfg       Config
	weights   map[string]float64
	outcomes  []Outcome
	lastAdapt time.Time
}

func New(cfg Config) *Learner {
	l := &Learner{cfg: cfg}
	l.weights = l.defaults()
	return l
}

func (l *Learner) Name() string { return "component_weights" }

func (l *Learner) defaults() map[string]float64 {
	out := make(map[string]float64, len(types.ComponentNames))
	for _, name := range types.ComponentNames {
		out[name] = l.cfg.Defaults[name]
	}
	return out
}

func (l *Learner) band(name string) learning.Band {
	return learning.Band{Min: l.cfg.MinWeight, Max: l.cfg.MaxWeight, Default: l.cfg.Defaults[name]}
}

// Weights returns a copy of the current weights. They always sum to 1.
func (l *Learner) Weights() map[string]float64 {
	out := make(map[string]float64, len(l.weights))
	for k, v := range l.weights {
		out[k] = v
	}
	return out
}

func (l *Learner) Record(t types.Trade) {
	if t.Open() {
		return
	}
	for _, o := range l.outcomes {
		if o.TradeID == t.ID {
			return
		}
	}
	l.outcomes = append(l.outcomes, Outcome{
		TradeID:    t.ID,
		Components: t.Entry.Components.Map(),
		Won:        t.Won(),
		ClosedAt:   *t.ExitTime,
	})
	if n := len(l.outcomes) - l.cfg.ArchiveCap; l.cfg.ArchiveCap > 0 && n > 0 {
		l.outcomes = append([]Outcome(nil), l.outcomes[n:]...)
	}
}

// Differentials returns mean(component | win) - mean(component | loss) over
// the window, and the number of trades considered.
func (l *Learner) Differentials(now time.Time) (map[string]float64, int) {
	cutoff := now.Add(-l.cfg.Window)
	winSum := make(map[string]float64)
	lossSum := make(map[string]float64)
	wins, losses := 0, 0
	for _, o := range l.outcomes {
		if o.ClosedAt.Before(cutoff) {
			continue
		}
		target := lossSum
		if o.Won {
			target = winSum
			wins++
		} else {
			losses++
		}
		for k, v := range o.Components {
			target[k] += v
		}
	}
	diffs := make(map[string]float64, len(types.ComponentNames))
	if wins == 0 || losses == 0 {
		return diffs, wins + losses
	}
	for _, name := range types.ComponentNames {
		diffs[name] = winSum[name]/float64(wins) - lossSum[name]/float64(losses)
	}
	return diffs, wins + losses
}

// Adapt nudges each weight by its differential, then renormalizes.
func (l *Learner) Adapt(now time.Time) (learning.Adaptation, bool) {
	if !l.lastAdapt.IsZero() && now.Sub(l.lastAdapt) < l.cfg.Interval {
		return learning.Adaptation{}, false
	}
	before := l.Weights()
	diffs, n := l.Differentials(now)
	reason := "win/loss differential"
	next := make(map[string]float64, len(before))
	switch {
	case n >= l.cfg.MinTrades && len(diffs) > 0:
		for _, name := range types.ComponentNames {
			cur := before[name]
			target := cur * (1 + diffs[name])
			next[name] = l.cfg.Guard.Step(cur, target, l.cfg.LearningRate, l.band(name))
		}
	default:
		last := l.lastOutcome()
		if last.IsZero() {
			last = l.lastAdapt
		}
		reason = "inactivity decay"
		for _, name := range types.ComponentNames {
			next[name], _ = l.cfg.Guard.Decay(before[name], l.band(name), last, now)
		}
	}
	l.weights = learning.Normalize(next, l.cfg.MinWeight, l.cfg.MaxWeight)
	l.lastAdapt = now
	changes := learning.Diff(before, l.weights)
	if len(changes) == 0 {
		return learning.Adaptation{}, false
	}
	a := learning.Adaptation{Learner: l.Name(), Reason: reason, Changes: changes, At: now}
	log.Infof("%s", a)
	return a, true
}

func (l *Learner) lastOutcome() time.Time {
	var last time.Time
	for _, o := range l.outcomes {
		if o.ClosedAt.After(last) {
			last = o.ClosedAt
		}
	}
	return last
}

func (l *Learner) State() State {
	return State{Weights: l.Weights(), Outcomes: append([]Outcome(nil), l.outcomes...), LastAdapt: l.lastAdapt}
}

// Restore loads a snapshot; unknown keys are dropped and the result is
// renormalized into the band.
func (l *Learner) Restore(s State) {
	w := l.defaults()
	for _, name := range types.ComponentNames {
		if v, ok := s.Weights[name]; ok {
			w[name] = v
		}
	}
	l.weights = learning.Normalize(w, l.cfg.MinWeight, l.cfg.MaxWeight)
	l.outcomes = append([]Outcome(nil), s.Outcomes...)
	l.lastAdapt = s.LastAdapt
}
