package middlewares

import (
	"fmt"
	"strings"
	"time"

	"tradeloop/internal/pipeline"
)

// Sub-score keys written to the AnalysisContext.
const (
	ScoreTrend          = "trend"
	ScoreMomentum       = "momentum"
	ScoreVolume         = "volume"
	ScoreVolatilityRisk = "volatility_risk"
)

// Config is shared by every scoring middleware.
type Config struct {
	Name     string
	Stage    int
	Critical bool
	Timeout  time.Duration
}

func (c Config) meta(defaultName string) pipeline.MiddlewareMeta {
	return pipeline.MiddlewareMeta{
		Name:     nameOrDefault(c.Name, defaultName),
		Stage:    c.Stage,
		Critical: c.Critical,
		Timeout:  c.Timeout,
	}
}

func nameOrDefault(name, def string) string {
	if strings.TrimSpace(name) == "" {
		return def
	}
	return strings.TrimSpace(name)
}

func insufficient(what string, need, got int) error {
	return fmt.Errorf("%s: insufficient bars need %d got %d", what, need, got)
}

func capUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Defaults returns the four validator middlewares, all non-critical, all in stage 0.
func Defaults(timeout time.Duration) []pipeline.Middleware {
	cfg := Config{Timeout: timeout}
	return []pipeline.Middleware{
		NewTrend(cfg),
		NewMomentum(cfg),
		NewVolume(cfg),
		NewVolatility(cfg),
		NewLevels(Config{Stage: 1, Timeout: timeout}),
	}
}
