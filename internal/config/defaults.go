package config

import (
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
	"tradeloop/internal/trader"
	"tradeloop/internal/validator"
)

const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultHTTPAddr       = ":9991"
	defaultStorePath      = "data/tradeloop.db"
	defaultDeadLetterPath = "data/deadletter.db"
	defaultStrategiesPath = "configs/strategies.yaml"
	defaultNotifyBuffer   = 64
)

// Default is the configuration used for every key a file does not set.
func Default() Config {
	return Config{
		App: AppConfig{Env: defaultAppEnv, LogLevel: defaultAppLogLevel},
		Cache: cache.Config{
			IntradayTTL: 60 * time.Second,
			DailyTTL:    300 * time.Second,
			MinSpacing:  500 * time.Millisecond,
			Retry:       retry.DefaultPolicy(),
		},
		Sources: SourcesConfig{
			Crypto:  "binance",
			Binance: binance.Config{RESTBaseURL: "https://fapi.binance.com", HTTPTimeout: 15 * time.Second},
			Yahoo:   yahoo.Config{BaseURL: "https://query1.finance.yahoo.com", HTTPTimeout: 15 * time.Second},
		},
		Validator:   validator.DefaultConfig(),
		Predictor:   PredictorConfig{Scorer: predictor.Config{Period: "1y", Granularity: "1d"}},
		Ranker:      ranker.DefaultConfig(),
		Strategies:  StrategiesConfig{Path: defaultStrategiesPath, Watch: true},
		Coordinator: coordinator.DefaultConfig(),
		Executor:    trader.DefaultConfig(),
		Broker: BrokerConfig{
			Mode:    "paper",
			Retry:   retry.DefaultPolicy(),
			Breaker: BreakerConfig{Threshold: 5, Cooldown: 2 * time.Minute},
		},
		Learning: LearningConfig{
			Adaptive:   adaptive.DefaultConfig(),
			Components: components.DefaultConfig(),
			Patterns:   patterns.DefaultConfig(),
			Lifecycle:  lifecycle.DefaultConfig(),
		},
		Scanners: []ScannerConfig{},
		Notify:   NotifyConfig{Buffer: defaultNotifyBuffer},
		HTTP:     HTTPConfig{Enabled: true, Addr: defaultHTTPAddr},
		Store: StoreConfig{
			Path:           defaultStorePath,
			DeadLetterPath: defaultDeadLetterPath,
			DeadLetterKeep: 30 * 24 * time.Hour,
		},
	}
}
