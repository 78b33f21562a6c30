package app

import (
	"context"
	"fmt"

	"tradeloop/internal/broker"
	"tradeloop/internal/config"
	"tradeloop/internal/gateway/binance"
	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/gateway/yahoo"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/market/cache"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/types"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketSources is the upstream side of the data cache: history per asset
// class and last-trade quotes for the executor.
type MarketSources struct {
	History market.HistorySource
	Quotes  broker.Quoter
	// Names maps asset class to the source serving it, for the summary.
	Names map[string]string
}

func buildMarketSources(cfg config.SourcesConfig) (*MarketSources, error) {
	yh := yahoo.New(cfg.Yahoo)
	router := market.NewRouter(yh)
	quotes := &quoteRouter{fallback: yh, byClass: map[types.AssetClass]broker.Quoter{}}
	names := make(map[string]string, len(types.AssetClasses))
	for _, class := range types.AssetClasses {
		names[string(class)] = "yahoo"
	}
	if cfg.Crypto == "binance" {
		bn, err := binance.New(cfg.Binance)
		if err != nil {
			return nil, fmt.Errorf("binance source: %w", err)
		}
		router.Route(types.AssetCrypto, bn)
		quotes.byClass[types.AssetCrypto] = bn
		names[string(types.AssetCrypto)] = "binance"
	}
	return &MarketSources{History: router, Quotes: quotes, Names: names}, nil
}

// buildDataCache fronts the sources with the shared cache. A source whose
// breaker opens raises one alert per transition.
func buildDataCache(cfg *config.Config, src *MarketSources, reg prometheus.Registerer, sink notifier.Sink) (*cache.DataCache, error) {
	metrics, err := cache.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	breakers := circuit.NewRegistry(cfg.Broker.Breaker.Threshold, cfg.Broker.Breaker.Cooldown, func(name string, lastErr error) {
		logger.Warnf("DataCache: source %s unavailable, cooling down: %v", name, lastErr)
		sink.Notify(notifier.Alert("Market data unavailable", fmt.Sprintf("%s: %v", name, lastErr)))
	})
	return cache.New(src.History, cfg.Cache, cache.WithMetrics(metrics), cache.WithBreakers(breakers)), nil
}

func newLiveBroker(cfg binance.Config) (*binance.Broker, error) {
	return binance.NewBroker(cfg)
}

// quoteRouter sends quote requests to the source registered for the asset
// class, like market.Router does for history.
type quoteRouter struct {
	byClass  map[types.AssetClass]broker.Quoter
	fallback broker.Quoter
}

func (q *quoteRouter) LastPrice(ctx context.Context, symbol string, class types.AssetClass) (float64, error) {
	src, ok := q.byClass[class]
	if !ok {
		src = q.fallback
	}
	if src == nil {
		return 0, fmt.Errorf("no quote source for asset class %q", class)
	}
	return src.LastPrice(ctx, symbol, class)
}
