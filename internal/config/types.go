package config

import (
	"strings"
	"time"

	"tradeloop/internal/coordinator"
	"tradeloop/internal/gateway/binance"
	"tradeloop/internal/gateway/yahoo"
	"tradeloop/internal/learning/adaptive"
	"tradeloop/internal/learning/components"
	"tradeloop/internal/learning/lifecycle"
	"tradeloop/internal/learning/patterns"
	"tradeloop/internal/market/cache"
	"tradeloop/internal/pkg/retry"
	"tradeloop/internal/predictor"
	"tradeloop/internal/ranker"
	"tradeloop/internal/scanner"
	"tradeloop/internal/trader"
	"tradeloop/internal/validator"
)

// Config is the whole process configuration.
type Config struct {
	App         AppConfig          `yaml:"app"`
	Cache       cache.Config       `yaml:"cache"`
	Sources     SourcesConfig      `yaml:"sources"`
	Validator   validator.Config   `yaml:"validator"`
	Predictor   PredictorConfig    `yaml:"predictor"`
	Ranker      ranker.Config      `yaml:"ranker"`
	Strategies  StrategiesConfig   `yaml:"strategies"`
	Coordinator coordinator.Config `yaml:"coordinator"`
	Executor    trader.Config      `yaml:"executor"`
	Broker      BrokerConfig       `yaml:"broker"`
	Learning    LearningConfig     `yaml:"learning"`
	Scanners    []ScannerConfig    `yaml:"scanners"`
	Notify      NotifyConfig       `yaml:"notify"`
	HTTP        HTTPConfig         `yaml:"http"`
	Store       StoreConfig        `yaml:"store"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
}

// SourcesConfig selects the history source per asset class.
type SourcesConfig struct {
	// Crypto is "binance" or "yahoo"; every other class uses yahoo.
	Crypto  string         `yaml:"crypto"`
	Binance binance.Config `yaml:"binance"`
	Yahoo   yahoo.Config   `yaml:"yahoo"`
}

type PredictorConfig struct {
	Scorer predictor.Config `yaml:"scorer"`
	// TrainUniverse is always included in training rounds.
	TrainUniverse []scanner.Instrument `yaml:"train_universe"`
}

// StrategiesConfig points at the hot-reloaded strategy table.
type StrategiesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type BrokerConfig struct {
	// Mode is "paper" or "live"; it is fixed for the life of the process.
	Mode    string        `yaml:"mode"`
	Retry   retry.Policy  `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

type LearningConfig struct {
	Adaptive   adaptive.Config   `yaml:"adaptive"`
	Components components.Config `yaml:"components"`
	Patterns   patterns.Config   `yaml:"patterns"`
	Lifecycle  lifecycle.Config  `yaml:"lifecycle"`
}

// ScannerConfig describes one scanner job. Params are decoded into the
// detector's own config type.
type ScannerConfig struct {
	Name     string           `yaml:"name"`
	Kind     string           `yaml:"kind"`
	Disabled bool             `yaml:"disabled"`
	Schedule scanner.Schedule `yaml:"schedule"`
	Timeout  time.Duration    `yaml:"timeout"`
	Universe scanner.Universe `yaml:"universe"`
	Params   map[string]any   `yaml:"params"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Buffer   int            `yaml:"buffer"`
	// Kinds limits delivery to these event kinds; empty means all.
	Kinds []string `yaml:"kinds"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type StoreConfig struct {
	Path           string        `yaml:"path"`
	DeadLetterPath string        `yaml:"dead_letter_path"`
	DeadLetterKeep time.Duration `yaml:"dead_letter_keep"`
}

// keySet tracks dotted key paths.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// covers reports whether path or one of its parents is in the set.
func (k keySet) covers(path string) bool {
	path = strings.ToLower(strings.TrimSpace(path))
	for path != "" {
		if k.isSet(path) {
			return true
		}
		i := strings.LastIndex(path, ".")
		if i < 0 {
			return false
		}
		path = path[:i]
	}
	return false
}
