package ranker

import (
	"strings"
	"sync"
	"time"

	"tradeloop/internal/types"
)

// ConfluenceConfig names the strategies whose signals corroborate others.
type ConfluenceConfig struct {
	InsiderStrategies []string      `yaml:"insider_strategies"`
	FlowStrategies    []string      `yaml:"flow_strategies"`
	InsiderWindow     time.Duration `yaml:"insider_window"`
	FlowWindow        time.Duration `yaml:"flow_window"`
	InsiderBonus      float64       `yaml:"insider_bonus"`
	FlowBonus         float64       `yaml:"flow_bonus"`
}

func DefaultConfluenceConfig() ConfluenceConfig {
	return ConfluenceConfig{
		InsiderStrategies: []string{"edgar_insider_buying"},
		FlowStrategies:    []string{"unusual_options_flow"},
		InsiderWindow:     168 * time.Hour,
		FlowWindow:        72 * time.Hour,
		InsiderBonus:      1.15,
		FlowBonus:         1.12,
	}
}

type sighting struct {
	side types.Side
	at   time.Time
}

// Confluence remembers corroborating signals per symbol.
type Confluence struct {
	cfg     ConfluenceConfig
	mu      sync.Mutex
	insider map[string]sighting
	flow    map[string]sighting
}

func NewConfluence(cfg ConfluenceConfig) *Confluence {
	def := DefaultConfluenceConfig()
	if cfg.InsiderWindow <= 0 {
		cfg.InsiderWindow = def.InsiderWindow
	}
	if cfg.FlowWindow <= 0 {
		cfg.FlowWindow = def.FlowWindow
	}
	if cfg.InsiderBonus <= 0 {
		cfg.InsiderBonus = def.InsiderBonus
	}
	if cfg.FlowBonus <= 0 {
		cfg.FlowBonus = def.FlowBonus
	}
	return &Confluence{cfg: cfg, insider: make(map[string]sighting), flow: make(map[string]sighting)}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Observe records c if it is a corroborating signal and reports whether it was.
// A corroborating signal never boosts itself.
func (c *Confluence) Observe(cand types.RawCandidate, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case contains(c.cfg.InsiderStrategies, cand.Strategy):
		c.insider[cand.Symbol] = sighting{side: cand.Side, at: now}
		return true
	case contains(c.cfg.FlowStrategies, cand.Strategy):
		c.flow[cand.Symbol] = sighting{side: cand.Side, at: now}
		return true
	}
	return false
}

// Bonus returns the confluence multiplier for a non-corroborating candidate.
// Options flow must agree on side; the larger applicable bonus wins.
func (c *Confluence) Bonus(cand types.RawCandidate, now time.Time) (float64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	best, why := 1.0, ""
	if s, ok := c.insider[cand.Symbol]; ok {
		if now.Sub(s.at) < c.cfg.InsiderWindow {
			if s.side == cand.Side {
				best, why = c.cfg.InsiderBonus, "insider confluence"
			}
		} else {
			delete(c.insider, cand.Symbol)
		}
	}
	if s, ok := c.flow[cand.Symbol]; ok {
		if now.Sub(s.at) < c.cfg.FlowWindow {
			if s.side == cand.Side && c.cfg.FlowBonus > best {
				best, why = c.cfg.FlowBonus, "options flow confluence"
			}
		} else {
			delete(c.flow, cand.Symbol)
		}
	}
	return best, why
}
