// Package learning holds the guardrails shared by every learner: a hard band
// per weight, a cap on the fractional move per cycle, a minimum sample gate
// and decay back toward the default after a quiet period.
package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"tradeloop/internal/types"
)

// Band is the hard [Min, Max] range of one weight and its resting value.
type Band struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Default float64 `yaml:"default"`
}

func (b Band) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return b.Default
	}
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

func (b Band) Validate() error {
	if b.Min > b.Max {
		return fmt.Errorf("band min %.3f > max %.3f", b.Min, b.Max)
	}
	if b.Default < b.Min || b.Default > b.Max {
		return fmt.Errorf("band default %.3f outside [%.3f, %.3f]", b.Default, b.Min, b.Max)
	}
	return nil
}

// Guard bounds how far one cycle may move a weight.
type Guard struct {
	// MaxShift is the largest move per cycle as a fraction of the current value.
	MaxShift float64 `yaml:"max_shift"`
	// DecayAfter is the inactivity window after which a weight drifts home.
	DecayAfter time.Duration `yaml:"decay_after"`
	// DecayRate is the fraction of the gap to the default closed per cycle.
	DecayRate float64 `yaml:"decay_rate"`
}

func DefaultGuard() Guard {
	return Guard{MaxShift: 0.15, DecayAfter: 30 * 24 * time.Hour, DecayRate: 0.10}
}

// Cap limits the move from current to next to MaxShift of current.
func (g Guard) Cap(current, next float64) float64 {
	limit := g.MaxShift * math.Abs(current)
	if current == 0 {
		limit = g.MaxShift
	}
	if d := next - current; d > limit {
		return current + limit
	} else if d < -limit {
		return current - limit
	}
	return next
}

// Step moves current toward target by rate, then applies the cap and band.
func (g Guard) Step(current, target, rate float64, b Band) float64 {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return b.Clamp(current)
	}
	next := current + rate*(target-current)
	return b.Clamp(g.Cap(current, next))
}

// Decay pulls current toward the band default once lastActive is older than
// DecayAfter. It reports whether anything moved.
func (g Guard) Decay(current float64, b Band, lastActive, now time.Time) (float64, bool) {
	if g.DecayAfter <= 0 || g.DecayRate <= 0 || now.Sub(lastActive) < g.DecayAfter {
		return current, false
	}
	next := b.Clamp(g.Cap(current, current+g.DecayRate*(b.Default-current)))
	return next, next != current
}

// Normalize rescales weights to sum to 1 while keeping each within [lo, hi].
// Pinned weights are held at their bound and the rest share what is left.
func Normalize(w map[string]float64, lo, hi float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	if len(w) == 0 {
		return out
	}
	keys := make([]string, 0, len(w))
	for k, v := range w {
		keys = append(keys, k)
		out[k] = math.Max(v, 1e-9)
	}
	sort.Strings(keys)
	pinned := make(map[string]bool, len(w))
	for iter := 0; iter < len(keys)+1; iter++ {
		fixed, free := 0.0, 0.0
		for _, k := range keys {
			if pinned[k] {
				fixed += out[k]
			} else {
				free += out[k]
			}
		}
		if free <= 0 {
			break
		}
		scale := (1 - fixed) / free
		changed := false
		for _, k := range keys {
			if pinned[k] {
				continue
			}
			v := out[k] * scale
			switch {
			case v < lo:
				out[k], pinned[k], changed = lo, true, true
			case v > hi:
				out[k], pinned[k], changed = hi, true, true
			default:
				out[k] = v
			}
		}
		if !changed {
			break
		}
	}
	return out
}

// Change is one weight's move in an adaptation cycle.
type Change struct {
	Key  string  `json:"key"`
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Adaptation summarizes one cycle of one learner.
type Adaptation struct {
	Learner string    `json:"learner"`
	Reason  string    `json:"reason"`
	Changes []Change  `json:"changes"`
	At      time.Time `json:"at"`
}

func (a Adaptation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", a.Learner, a.Reason)
	for _, c := range a.Changes {
		fmt.Fprintf(&b, "\n  %-16s %.3f -> %.3f", c.Key, c.From, c.To)
	}
	return b.String()
}

// Learner is what the coordinator drives. All methods are called from the
// coordinator goroutine only.
type Learner interface {
	Name() string
	Record(t types.Trade)
	Adapt(now time.Time) (Adaptation, bool)
}

// Diff lists the keys whose value moved, in sorted key order.
func Diff(before, after map[string]float64) []Change {
	keys := make([]string, 0, len(after))
	for k := range after {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []Change
	for _, k := range keys {
		if math.Abs(before[k]-after[k]) > 1e-12 {
			out = append(out, Change{Key: k, From: before[k], To: after[k]})
		}
	}
	return out
}
