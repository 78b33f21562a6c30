package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tradeloop/internal/broker"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/learning"
)

// Scanner kinds the app knows how to build.
const (
	ScannerCrossover = "crossover"
	ScannerBreakout  = "breakout"
)

func (c *Config) normalize() {
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(c.App.LogLevel))
	c.Sources.Crypto = strings.ToLower(strings.TrimSpace(c.Sources.Crypto))
	c.Broker.Mode = strings.ToLower(strings.TrimSpace(c.Broker.Mode))
	c.Coordinator.Mode = coordinator.Mode(strings.ToLower(strings.TrimSpace(string(c.Coordinator.Mode))))
	for i := range c.Scanners {
		s := &c.Scanners[i]
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			s.Name = s.Kind
		}
	}
	if c.Executor.Timezone == "" {
		c.Executor.Timezone = c.Coordinator.Timezone
	}
}

func validate(c *Config) error {
	checks := []func() error{
		c.App.validate,
		c.Sources.validate,
		c.validateValidator,
		c.validateCoordinator,
		c.validateExecutor,
		c.Broker.validate,
		c.Learning.validate,
		c.validateScanners,
		c.Notify.validate,
		c.HTTP.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("app.log_level must be debug, info, warn or error (got %q)", a.LogLevel)
}

func (s *SourcesConfig) validate() error {
	switch s.Crypto {
	case "binance", "yahoo":
	default:
		return fmt.Errorf("sources.crypto must be binance or yahoo (got %q)", s.Crypto)
	}
	if s.Crypto == "binance" && strings.TrimSpace(s.Binance.RESTBaseURL) == "" {
		return fmt.Errorf("sources.binance.rest_base_url cannot be empty")
	}
	return nil
}

func (c *Config) validateValidator() error {
	v := c.Validator
	if v.MinBars < 2 {
		return fmt.Errorf("validator.min_bars must be >= 2")
	}
	if err := unit("validator.min_composite", v.MinComposite); err != nil {
		return err
	}
	if err := unit("validator.min_trend", v.MinTrend); err != nil {
		return err
	}
	sum := v.TrendWeight + v.MomentumWeight + v.VolumeWeight + v.RiskWeight
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("validator weights must sum to 1 (got %.4f)", sum)
	}
	return nil
}

func (c *Config) validateCoordinator() error {
	co := c.Coordinator
	if _, err := coordinator.ParseMode(string(co.Mode)); err != nil {
		return fmt.Errorf("coordinator.mode: %w", err)
	}
	if err := unit("coordinator.execute_threshold", co.ExecuteThreshold); err != nil {
		return err
	}
	if co.MaxPositions < 1 {
		return fmt.Errorf("coordinator.max_positions must be >= 1")
	}
	if co.MaxDailyLoss <= 0 || co.MaxDailyLoss >= 1 {
		return fmt.Errorf("coordinator.max_daily_loss must be in (0, 1)")
	}
	if co.TickInterval <= 0 {
		return fmt.Errorf("coordinator.tick_interval must be > 0")
	}
	if _, err := time.LoadLocation(co.Timezone); err != nil {
		return fmt.Errorf("coordinator.timezone: %w", err)
	}
	return nil
}

func (c *Config) validateExecutor() error {
	e := c.Executor
	if e.Capital <= 0 {
		return fmt.Errorf("executor.capital must be > 0")
	}
	if e.Sizing.MaxRiskFraction <= 0 || e.Sizing.MaxRiskFraction > 1 {
		return fmt.Errorf("executor.sizing.max_risk_fraction must be in (0, 1]")
	}
	if e.Sizing.MaxPositionFraction <= 0 || e.Sizing.MaxPositionFraction > 1 {
		return fmt.Errorf("executor.sizing.max_position_fraction must be in (0, 1]")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if _, err := broker.ParseMode(b.Mode); err != nil {
		return fmt.Errorf("broker.mode: %w", err)
	}
	if b.Retry.Attempts < 1 {
		return fmt.Errorf("broker.retry.attempts must be >= 1")
	}
	if b.Breaker.Threshold < 1 {
		return fmt.Errorf("broker.breaker.threshold must be >= 1")
	}
	return nil
}

func (l *LearningConfig) validate() error {
	if err := band("learning.adaptive.band", l.Adaptive.Band); err != nil {
		return err
	}
	comp := l.Components
	if comp.MinWeight <= 0 || comp.MinWeight >= comp.MaxWeight {
		return fmt.Errorf("learning.components needs 0 < min_weight < max_weight")
	}
	for name, w := range comp.Defaults {
		if w < comp.MinWeight || w > comp.MaxWeight {
			return fmt.Errorf("learning.components.defaults.%s=%.2f outside [%.2f, %.2f]", name, w, comp.MinWeight, comp.MaxWeight)
		}
	}
	if err := unit("learning.patterns.similarity", l.Patterns.Similarity); err != nil {
		return err
	}
	lc := l.Lifecycle
	if lc.RollbackBelow > lc.AccuracyThreshold {
		return fmt.Errorf("learning.lifecycle.rollback_below must not exceed accuracy_threshold")
	}
	return nil
}

func (c *Config) validateScanners() error {
	seen := make(map[string]bool, len(c.Scanners))
	for i, s := range c.Scanners {
		switch s.Kind {
		case ScannerCrossover, ScannerBreakout:
		default:
			return fmt.Errorf("scanners[%d].kind %q unknown (crossover, breakout)", i, s.Kind)
		}
		if seen[s.Name] {
			return fmt.Errorf("scanners[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Disabled {
			continue
		}
		if s.Schedule.Interval <= 0 {
			return fmt.Errorf("scanners.%s.schedule.interval must be > 0", s.Name)
		}
		if len(s.Universe.Symbols) == 0 {
			return fmt.Errorf("scanners.%s.universe.symbols cannot be empty", s.Name)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	if n.Buffer < 1 {
		return fmt.Errorf("notify.buffer must be >= 1")
	}
	return nil
}

func (h *HTTPConfig) validate() error {
	if h.Enabled && strings.TrimSpace(h.Addr) == "" {
		return fmt.Errorf("http.addr cannot be empty when http is enabled")
	}
	return nil
}

func unit(key string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0, 1] (got %v)", key, v)
	}
	return nil
}

func band(key string, b learning.Band) error {
	if b.Min <= 0 || b.Min > b.Default || b.Default > b.Max {
		return fmt.Errorf("%s needs 0 < min <= default <= max", key)
	}
	return nil
}
