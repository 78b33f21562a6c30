package coordinator

import (
	"sort"
	"time"

	"tradeloop/internal/learning/lifecycle"
	"tradeloop/internal/learning/patterns"
	"tradeloop/internal/types"
)

// Opportunity is a ranked opportunity as the dashboard sees it.
type Opportunity struct {
	types.RankedOpportunity
	Stage  types.Stage   `json:"stage"`
	Reason string        `json:"reason,omitempty"`
	Edge   patterns.Edge `json:"edge"`
}

// LearningView summarizes the learners for read-only callers.
type LearningView struct {
	MarketWeights    map[string]float64      `json:"market_weights"`
	ComponentWeights map[string]float64      `json:"component_weights"`
	Patterns         int                     `json:"patterns"`
	ModelVersion     int                     `json:"model_version"`
	RollingAccuracy  float64                 `json:"rolling_accuracy"`
	AccuracyKnown    bool                    `json:"accuracy_known"`
	Versions         []lifecycle.VersionInfo `json:"versions"`
}

// View is published by the loop after every change and never mutated.
type View struct {
	Mode           Mode          `json:"mode"`
	TradingEnabled bool          `json:"trading_enabled"`
	Top            []Opportunity `json:"top"`
	Pending        []Opportunity `json:"pending"`
	Learning       LearningView  `json:"learning"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (c *Coordinator) publish() {
	l := c.learners
	acc, known := l.Lifecycle.RollingAccuracy()
	v := &View{
		Mode:           c.cfg.Mode,
		TradingEnabled: c.haltedDay != c.now().In(c.loc).Format("2006-01-02"),
		Top:            append([]Opportunity(nil), c.top...),
		Pending:        make([]Opportunity, 0, len(c.pending)),
		Learning: LearningView{
			MarketWeights:    l.Adaptive.All(),
			ComponentWeights: l.Components.Weights(),
			Patterns:         l.Patterns.Len(),
			ModelVersion:     l.Lifecycle.ActiveVersion(),
			RollingAccuracy:  acc,
			AccuracyKnown:    known,
			Versions:         l.Lifecycle.Versions(),
		},
		UpdatedAt: c.now(),
	}
	for _, p := range c.pending {
		v.Pending = append(v.Pending, p.op)
	}
	sort.Slice(v.Pending, func(i, j int) bool { return v.Pending[i].Score > v.Pending[j].Score })
	c.view.Store(v)
	c.metrics.pendingApprovals(len(v.Pending))
}

// Snapshot returns the latest published view.
func (c *Coordinator) Snapshot() *View {
	if v := c.view.Load(); v != nil {
		return v
	}
	return &View{Mode: c.cfg.Mode, TradingEnabled: true}
}

// TopOpportunities returns up to limit of the best recent opportunities.
func (c *Coordinator) TopOpportunities(limit int) []Opportunity {
	top := c.Snapshot().Top
	if limit <= 0 || limit > len(top) {
		limit = len(top)
	}
	return append([]Opportunity(nil), top[:limit]...)
}

// PendingApprovals lists opportunities waiting for a decision, best first.
func (c *Coordinator) PendingApprovals() []Opportunity {
	return append([]Opportunity(nil), c.Snapshot().Pending...)
}

func (c *Coordinator) Learning() LearningView { return c.Snapshot().Learning }

func (c *Coordinator) Mode() Mode { return c.cfg.Mode }
