package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"tradeloop/internal/broker"
	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/learning/adaptive"
	"tradeloop/internal/learning/components"
	"tradeloop/internal/learning/lifecycle"
	"tradeloop/internal/learning/patterns"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/predictor"
	"tradeloop/internal/ranker"
	"tradeloop/internal/store"
	"tradeloop/internal/store/deadletter"
	"tradeloop/internal/store/gormstore"
	"tradeloop/internal/trader"
	"tradeloop/internal/types"
	"tradeloop/internal/validator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// AppBuilder assembles an App. Each external edge is a replaceable function
// so tests can swap sources, brokers and stores for fakes.
type AppBuilder struct {
	cfg *config.Config

	registry     *prometheus.Registry
	sourcesFn    func(config.SourcesConfig) (*MarketSources, error)
	brokerFn     func(context.Context, config.Config) (broker.Broker, error)
	storeFn      func(string) (store.Store, error)
	deadLetterFn func(string) (*deadletter.Store, error)
	textFn       func(config.NotifyConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

func WithRegistry(reg *prometheus.Registry) AppBuilderOption {
	return func(b *AppBuilder) { b.registry = reg }
}

func WithSources(fn func(config.SourcesConfig) (*MarketSources, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourcesFn = fn }
}

func WithBroker(fn func(context.Context, config.Config) (broker.Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.brokerFn = fn }
}

func WithTextNotifier(fn func(config.NotifyConfig) notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) { b.textFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		sourcesFn:    buildMarketSources,
		brokerFn:     buildBroker,
		storeFn:      openStore,
		deadLetterFn: deadletter.Open,
		textFn:       newTextNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.registry == nil {
		b.registry = prometheus.NewRegistry()
		b.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return b
}

func openStore(path string) (store.Store, error) { return gormstore.NewGormStore(path) }

// Build constructs every component, restores persisted state and reconciles
// the executor with the broker. Nothing is started.
func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	mode, err := coordinator.ParseMode(string(cfg.Coordinator.Mode))
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.deadLetters, err = b.deadLetterFn(cfg.Store.DeadLetterPath); err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}
	logger.SetFailureSink(a.deadLetters)

	a.notify = notifier.NewAsync(b.textFn(cfg.Notify), cfg.Notify.Buffer, notifyKinds(cfg.Notify.Kinds)...)

	sources, err := b.sourcesFn(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("init market sources: %w", err)
	}
	data, err := buildDataCache(cfg, sources, b.registry, a.notify)
	if err != nil {
		return nil, err
	}

	if a.store, err = b.storeFn(cfg.Store.Path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.strategies, err = loadStrategyTable(cfg.Strategies); err != nil {
		return nil, err
	}

	slot := &predictor.Slot{}
	learners := coordinator.Learners{
		Adaptive:   adaptive.New(cfg.Learning.Adaptive),
		Components: components.New(cfg.Learning.Components),
		Patterns:   patterns.New(cfg.Learning.Patterns),
		Lifecycle:  lifecycle.New(cfg.Learning.Lifecycle, slot),
	}

	// The trainer and executor report back to the coordinator, which is
	// built after them.
	var coord *coordinator.Coordinator
	a.trainer = predictor.NewTrainer(data, trainUniverse(cfg), func(res predictor.TrainResult) {
		coord.TrainingDone(res)
	})
	scorer := predictor.NewScorer(data, slot, a.trainer.Requests(), cfg.Predictor.Scorer)

	var exec coordinator.Executor
	if mode != coordinator.ModeScanOnly {
		a.trader, err = b.buildTrader(ctx, sources.Quotes, a.store, a.notify, func(ev types.TradeClosed) {
			coord.TradeClosed(ev)
		})
		if err != nil {
			return nil, err
		}
		exec = a.trader
	}

	coordMetrics, err := coordinator.NewMetrics(b.registry)
	if err != nil {
		return nil, err
	}
	ccfg := cfg.Coordinator
	ccfg.Mode = mode
	coord, err = coordinator.New(ccfg, coordinator.Deps{
		Validator: validator.New(data, cfg.Validator),
		Scorer:    scorer,
		Ranker:    ranker.New(cfg.Ranker, a.strategies, nil),
		Executor:  exec,
		Learners:  learners,
		Snapshots: a.store,
		Train:     a.trainer.Requests(),
		Notifier:  a.notify,
		Metrics:   coordMetrics,
	})
	if err != nil {
		return nil, err
	}
	if err = coord.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore learners: %w", err)
	}
	a.coordinator = coord
	// Reconciliation may close trades, which are relayed to the coordinator.
	if a.trader != nil {
		if err = a.trader.Recover(ctx); err != nil {
			return nil, fmt.Errorf("reconcile executor: %w", err)
		}
	}

	jobs, err := buildScannerJobs(cfg.Scanners, data)
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		a.scanners = newScannerRunner(coord, jobs)
	}

	if cfg.HTTP.Enabled {
		if a.http, err = buildHTTPServer(cfg.HTTP, coord, a.trader, a.deadLetters, b.registry); err != nil {
			return nil, err
		}
	}

	a.Summary = buildSummary(cfg, mode, sources, jobs, a.strategies, learners.Lifecycle.ActiveVersion())
	return a, nil
}

func (b *AppBuilder) buildTrader(ctx context.Context, quotes broker.Quoter, st store.Store, sink notifier.Sink, onClosed func(types.TradeClosed)) (*trader.Trader, error) {
	cfg := b.cfg
	brk, err := b.brokerFn(ctx, *cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Coordinator.Mode == coordinator.ModePaper && brk.Mode() != broker.ModePaper {
		return nil, fmt.Errorf("paper mode needs the paper broker, got %s", brk.Mode())
	}
	breaker := circuit.NewCircuitBreaker("broker", cfg.Broker.Breaker.Threshold, cfg.Broker.Breaker.Cooldown)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State, lastErr error) {
		if to == circuit.StateOpen {
			sink.Notify(notifier.Alert("Broker unavailable", fmt.Sprintf("%s circuit open after repeated failures: %v", name, lastErr)))
		}
	})
	metrics, err := trader.NewMetrics(b.registry)
	if err != nil {
		return nil, err
	}
	tcfg := cfg.Executor
	tcfg.Retry = cfg.Broker.Retry
	t, err := trader.New(tcfg, trader.Deps{
		Broker:    brk,
		Quoter:    quotes,
		Snapshots: st,
		Journal:   st,
		Breaker:   breaker,
		Notifier:  sink,
		Metrics:   metrics,
		OnClosed:  onClosed,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// brokerMode is the broker the run will trade on. Paper mode never reaches a
// live venue, whatever broker.mode says.
func brokerMode(cfg config.Config) (broker.Mode, error) {
	mode, err := broker.ParseMode(cfg.Broker.Mode)
	if err != nil {
		return "", err
	}
	if cfg.Coordinator.Mode == coordinator.ModePaper {
		return broker.ModePaper, nil
	}
	return mode, nil
}

// buildBroker returns the paper broker or, in live mode, a Binance futures
// broker that answered a ping.
func buildBroker(ctx context.Context, cfg config.Config) (broker.Broker, error) {
	mode, err := brokerMode(cfg)
	if err != nil {
		return nil, err
	}
	if mode == broker.ModePaper {
		if cfg.Broker.Mode == string(broker.ModeLive) {
			logger.Warnf("Coordinator mode is paper; ignoring broker.mode=live")
		}
		logger.Infof("Broker: paper trading")
		return broker.NewPaper(), nil
	}
	live, err := newLiveBroker(cfg.Sources.Binance)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Sources.Binance.HTTPTimeout)
	defer cancel()
	if err := live.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("live broker unreachable: %w", err)
	}
	logger.Infof("Broker: live (binance futures)")
	return live, nil
}

func loadStrategyTable(cfg config.StrategiesConfig) (*config.StrategyTable, error) {
	path := cfg.Path
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("Strategy table %s not found; every strategy is neutral", path)
			path = ""
		}
	}
	table, err := config.LoadStrategies(path, cfg.Watch)
	if err != nil {
		return nil, fmt.Errorf("load strategy table: %w", err)
	}
	table.OnChange(func(s config.StrategySnapshot) {
		logger.Infof("Strategy table v%d: %v", s.Version, s.Names())
	})
	return table, nil
}

// trainUniverse is the configured training set plus every scanned symbol.
func trainUniverse(cfg *config.Config) []market.Request {
	period, gran := cfg.Predictor.Scorer.Period, cfg.Predictor.Scorer.Granularity
	seen := make(map[string]bool)
	var out []market.Request
	add := func(symbol string, class types.AssetClass) {
		req := market.Request{Symbol: symbol, AssetClass: class, Period: period, Granularity: gran}
		if key := req.Key(); !seen[key] {
			seen[key] = true
			out = append(out, req)
		}
	}
	for _, in := range cfg.Predictor.TrainUniverse {
		add(in.Symbol, in.AssetClass)
	}
	for _, sc := range cfg.Scanners {
		if sc.Disabled {
			continue
		}
		for _, in := range sc.Universe.Symbols {
			add(in.Symbol, in.AssetClass)
		}
	}
	return out
}

func notifyKinds(raw []string) []notifier.Kind {
	out := make([]notifier.Kind, 0, len(raw))
	for _, k := range raw {
		out = append(out, notifier.Kind(k))
	}
	return out
}
