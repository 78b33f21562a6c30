// Package patterns remembers the entry feature vector and outcome of every
// closed trade and answers "how did similar setups end?".
package patterns

import (
	"math"
	"sort"
	"time"

	"tradeloop/internal/learning"
	"tradeloop/internal/types"
)

type Config struct {
	Capacity   int           `yaml:"capacity"`
	MinSimilar int           `yaml:"min_similar"`
	Similarity float64       `yaml:"similarity"`
	HalfLife   time.Duration `yaml:"half_life"`
}

func DefaultConfig() Config {
	return Config{Capacity: 1000, MinSimilar: 5, Similarity: 0.85, HalfLife: 90 * 24 * time.Hour}
}

// Pattern is one archived trade.
type Pattern struct {
	TradeID  string     `json:"trade_id"`
	Symbol   string     `json:"symbol"`
	Side     types.Side `json:"side"`
	Strategy string     `json:"strategy"`
	Features []float64  `json:"features"`
	Won      bool       `json:"won"`
	PnLPct   float64    `json:"pnl_pct"`
	ClosedAt time.Time  `json:"closed_at"`
}

// Edge is the answer to a similarity query. Known is false until at least
// MinSimilar patterns cleared the similarity threshold.
type Edge struct {
	Known      bool    `json:"known"`
	Matches    int     `json:"matches"`
	WinRate    float64 `json:"win_rate"`
	AvgPnLPct  float64 `json:"avg_pnl_pct"`
	Similarity float64 `json:"similarity"`
}

type State struct {
	Patterns []Pattern `json:"patterns"`
}

// Memory is a bounded archive of patterns.
type Memory struct {
	cfg      Config
	patterns []Pattern
	ids      map[string]struct{}
}

func New(cfg Config) *Memory {
	return &Memory{cfg: cfg, ids: make(map[string]struct{})}
}

func (m *Memory) Name() string { return "pattern_memory" }

func (m *Memory) Len() int { return len(m.patterns) }

// Record archives a closed trade. Trades without features and duplicates are ignored.
func (m *Memory) Record(t types.Trade) {
	if t.Open() || len(t.Entry.Features) == 0 {
		return
	}
	if _, dup := m.ids[t.ID]; dup {
		return
	}
	m.patterns = append(m.patterns, Pattern{
		TradeID:  t.ID,
		Symbol:   t.Symbol,
		Side:     t.Side,
		Strategy: t.Entry.Strategy,
		Features: append([]float64(nil), t.Entry.Features...),
		Won:      t.Won(),
		PnLPct:   t.PnLPct,
		ClosedAt: *t.ExitTime,
	})
	m.ids[t.ID] = struct{}{}
	if n := len(m.patterns) - m.cfg.Capacity; m.cfg.Capacity > 0 && n > 0 {
		for _, p := range m.patterns[:n] {
			delete(m.ids, p.TradeID)
		}
		m.patterns = append([]Pattern(nil), m.patterns[n:]...)
	}
}

// Adapt is a no-op: the archive is the model.
func (m *Memory) Adapt(time.Time) (learning.Adaptation, bool) {
	return learning.Adaptation{}, false
}

// Query finds archived patterns on the same side whose cosine similarity to
// features clears the threshold. Older patterns weigh less. Vectors are
// compared after standardizing each feature over the archive, so a feature
// measured in large units cannot dominate the match.
func (m *Memory) Query(features []float64, side types.Side, now time.Time) Edge {
	type hit struct {
		p   Pattern
		sim float64
	}
	sc := m.scaler(len(features))
	q := sc.apply(features)
	var hits []hit
	for _, p := range m.patterns {
		if p.Side != side || len(p.Features) != len(features) {
			continue
		}
		sim, ok := Cosine(q, sc.apply(p.Features))
		if ok && sim >= m.cfg.Similarity {
			hits = append(hits, hit{p, sim})
		}
	}
	if len(hits) < m.cfg.MinSimilar {
		return Edge{Matches: len(hits)}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	var wsum, wins, pnl, sims float64
	for _, h := range hits {
		w := m.ageWeight(h.p.ClosedAt, now)
		wsum += w
		if h.p.Won {
			wins += w
		}
		pnl += w * h.p.PnLPct
		sims += h.sim
	}
	return Edge{
		Known:      true,
		Matches:    len(hits),
		WinRate:    wins / wsum,
		AvgPnLPct:  pnl / wsum,
		Similarity: sims / float64(len(hits)),
	}
}

// scaler holds the per-feature mean and standard deviation of the archive.
type scaler struct{ mean, std []float64 }

// scaler is fitted on every archived vector of the given width, both sides.
func (m *Memory) scaler(width int) scaler {
	sc := scaler{mean: make([]float64, width), std: make([]float64, width)}
	n := 0
	for _, p := range m.patterns {
		if len(p.Features) != width {
			continue
		}
		n++
		for i, v := range p.Features {
			sc.mean[i] += v
		}
	}
	for i := range sc.std {
		sc.std[i] = 1
	}
	if n == 0 {
		return sc
	}
	for i := range sc.mean {
		sc.mean[i] /= float64(n)
	}
	vars := make([]float64, width)
	for _, p := range m.patterns {
		if len(p.Features) != width {
			continue
		}
		for i, v := range p.Features {
			d := v - sc.mean[i]
			vars[i] += d * d
		}
	}
	for i, v := range vars {
		if sd := math.Sqrt(v / float64(n)); sd > 1e-12 {
			sc.std[i] = sd
		}
	}
	return sc
}

func (s scaler) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.mean[i]) / s.std[i]
	}
	return out
}

func (m *Memory) ageWeight(at, now time.Time) float64 {
	if m.cfg.HalfLife <= 0 || !now.After(at) {
		return 1
	}
	return math.Pow(0.5, float64(now.Sub(at))/float64(m.cfg.HalfLife))
}

// Cosine is the cosine similarity of a and b. It is false for mismatched
// widths or a zero vector.
func Cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func (m *Memory) State() State {
	return State{Patterns: append([]Pattern(nil), m.patterns...)}
}

func (m *Memory) Restore(s State) {
	m.patterns = nil
	m.ids = make(map[string]struct{})
	for _, p := range s.Patterns {
		if _, dup := m.ids[p.TradeID]; dup {
			continue
		}
		m.patterns = append(m.patterns, p)
		m.ids[p.TradeID] = struct{}{}
	}
	if n := len(m.patterns) - m.cfg.Capacity; m.cfg.Capacity > 0 && n > 0 {
		for _, p := range m.patterns[:n] {
			delete(m.ids, p.TradeID)
		}
		m.patterns = m.patterns[n:]
	}
}
