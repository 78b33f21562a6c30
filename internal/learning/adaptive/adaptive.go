// Package adaptive learns a ranking multiplier per asset class from how
// trades in that class have actually performed.
package adaptive

import (
	"math"
	"time"

	"tradeloop/internal/learning"
	"tradeloop/internal/logger"
	"tradeloop/internal/types"
)

var log = logger.Named("AdaptiveWeights")

type Config struct {
	MinTrades    int            `yaml:"min_trades"`
	Window       time.Duration  `yaml:"window"`
	Interval     time.Duration  `yaml:"interval"`
	LearningRate float64        `yaml:"learning_rate"`
	HistoryCap   int            `yaml:"history_cap"`
	Band         learning.Band  `yaml:"band"`
	Guard        learning.Guard `yaml:"guard"`
}

func DefaultConfig() Config {
	return Config{
		MinTrades:    10,
		Window:       90 * 24 * time.Hour,
		Interval:     24 * time.Hour,
		LearningRate: 0.3,
		HistoryCap:   1000,
		Band:         learning.Band{Min: 0.40, Max: 1.30, Default: 1.0},
		Guard:        learning.DefaultGuard(),
	}
}

// Outcome is the slice of a closed trade this learner keeps.
type Outcome struct {
	TradeID    string           `json:"trade_id"`
	AssetClass types.AssetClass `json:"asset_class"`
	PnL        float64          `json:"pnl"`
	RRAchieved float64          `json:"rr_achieved"`
	ClosedAt   time.Time        `json:"closed_at"`
}

// Performance is one asset class's record over the window.
type Performance struct {
	Trades       int     `json:"trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgRR        float64 `json:"avg_rr"`
	Share        float64 `json:"share"`
	Composite    float64 `json:"composite"`
}

// State is the persisted snapshot.
type State struct {
	Weights   map[string]float64 `json:"weights"`
	History   []Outcome          `json:"history"`
	LastAdapt time.Time          `json:"last_adapt"`
}

// Weights owns the per-class multipliers.
type Weights struct {
	cfg       Config
	weights   map[types.AssetClass]float64
	history   []Outcome
	lastAdapt time.Time
}

func New(cfg Config) *Weights {
	w := &Weights{cfg: cfg, weights: make(map[types.AssetClass]float64)}
	for _, c := range types.AssetClasses {
		w.weights[c] = cfg.Band.Default
	}
	return w
}

func (w *Weights) Name() string { return "adaptive_weights" }

// Weight is the current multiplier for class.
func (w *Weights) Weight(class types.AssetClass) float64 {
	if v, ok := w.weights[class]; ok {
		return v
	}
	return w.cfg.Band.Default
}

// All returns a copy keyed by asset class name.
func (w *Weights) All() map[string]float64 {
	out := make(map[string]float64, len(w.weights))
	for k, v := range w.weights {
		out[string(k)] = v
	}
	return out
}

func (w *Weights) Record(t types.Trade) {
	if t.Open() {
		return
	}
	for _, o := range w.history {
		if o.TradeID == t.ID {
			return
		}
	}
	w.history = append(w.history, Outcome{
		TradeID:    t.ID,
		AssetClass: t.AssetClass,
		PnL:        t.PnL,
		RRAchieved: t.RRAchieved,
		ClosedAt:   *t.ExitTime,
	})
	if n := len(w.history) - w.cfg.HistoryCap; w.cfg.HistoryCap > 0 && n > 0 {
		w.history = append([]Outcome(nil), w.history[n:]...)
	}
}

// Performance computes every class's record over the trailing window.
func (w *Weights) Performance(now time.Time) map[types.AssetClass]Performance {
	type acc struct {
		n, wins      int
		profit, loss float64
		rr           float64
	}
	accs := make(map[types.AssetClass]*acc)
	cutoff := now.Add(-w.cfg.Window)
	maxN := 0
	for _, o := range w.history {
		if o.ClosedAt.Before(cutoff) {
			continue
		}
		a := accs[o.AssetClass]
		if a == nil {
			a = &acc{}
			accs[o.AssetClass] = a
		}
		a.n++
		if o.PnL > 0 {
			a.wins++
			a.profit += o.PnL
		} else {
			a.loss -= o.PnL
		}
		a.rr += o.RRAchieved
		if a.n > maxN {
			maxN = a.n
		}
	}
	out := make(map[types.AssetClass]Performance, len(accs))
	for class, a := range accs {
		pf := 10.0
		if a.loss > 0 {
			pf = math.Min(a.profit/a.loss, 10)
		} else if a.profit == 0 {
			pf = 0
		}
		p := Performance{
			Trades:       a.n,
			WinRate:      float64(a.wins) / float64(a.n),
			ProfitFactor: pf,
			AvgRR:        a.rr / float64(a.n),
			Share:        float64(a.n) / float64(maxN),
		}
		p.Composite = 0.3*p.WinRate +
			0.3*math.Min(p.ProfitFactor/3, 1) +
			0.2*math.Max(math.Min(p.AvgRR/3, 1), 0) +
			0.2*p.Share
		out[class] = p
	}
	return out
}

func (w *Weights) lastActive(class types.AssetClass) time.Time {
	var last time.Time
	for _, o := range w.history {
		if o.AssetClass == class && o.ClosedAt.After(last) {
			last = o.ClosedAt
		}
	}
	return last
}

// Adapt runs one cycle if the interval has elapsed. Classes with enough
// trades move toward their performance target; quiet classes decay home.
func (w *Weights) Adapt(now time.Time) (learning.Adaptation, bool) {
	if !w.lastAdapt.IsZero() && now.Sub(w.lastAdapt) < w.cfg.Interval {
		return learning.Adaptation{}, false
	}
	before := w.All()
	perf := w.Performance(now)
	for _, class := range types.AssetClasses {
		cur := w.Weight(class)
		p, ok := perf[class]
		if ok && p.Trades >= w.cfg.MinTrades {
			target := w.cfg.Band.Min + p.Composite*(w.cfg.Band.Max-w.cfg.Band.Min)
			w.weights[class] = w.cfg.Guard.Step(cur, target, w.cfg.LearningRate, w.cfg.Band)
			continue
		}
		last := w.lastActive(class)
		if last.IsZero() {
			last = w.lastAdapt
		}
		if next, moved := w.cfg.Guard.Decay(cur, w.cfg.Band, last, now); moved {
			w.weights[class] = next
		}
	}
	w.lastAdapt = now
	changes := learning.Diff(before, w.All())
	if len(changes) == 0 {
		return learning.Adaptation{}, false
	}
	a := learning.Adaptation{Learner: w.Name(), Reason: "market performance", Changes: changes, At: now}
	log.Infof("%s", a)
	return a, true
}

func (w *Weights) State() State {
	return State{
		Weights:   w.All(),
		History:   append([]Outcome(nil), w.history...),
		LastAdapt: w.lastAdapt,
	}
}

// Restore loads a snapshot. Weights outside the band are clamped.
func (w *Weights) Restore(s State) {
	for k, v := range s.Weights {
		if class, err := types.ParseAssetClass(k); err == nil {
			w.weights[class] = w.cfg.Band.Clamp(v)
		}
	}
	w.history = append([]Outcome(nil), s.History...)
	w.lastAdapt = s.LastAdapt
}
