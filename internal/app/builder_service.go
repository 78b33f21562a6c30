package app

import (
	"context"
	"fmt"
	"time"

	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/scanner"
	"tradeloop/internal/store/deadletter"
	"tradeloop/internal/trader"
	livehttp "tradeloop/internal/transport/http/live"

	"github.com/prometheus/client_golang/prometheus"
)

func newTextNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return notifier.LogNotifier{}
	}
	logger.Infof("Notifier: telegram chat %s", cfg.Telegram.ChatID)
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func buildHTTPServer(cfg config.HTTPConfig, coord *coordinator.Coordinator, t *trader.Trader, failures *deadletter.Store, gatherer prometheus.Gatherer) (*livehttp.Server, error) {
	sc := livehttp.ServerConfig{Addr: cfg.Addr, Pipeline: coord, Gatherer: gatherer}
	// typed nils would defeat the handlers' nil checks
	if t != nil {
		sc.Account = t
	}
	if failures != nil {
		sc.Failures = failures
	}
	server, err := livehttp.NewServer(sc)
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}
	return server, nil
}

// buildScannerJobs turns each enabled scanner entry into a job. Params are
// decoded over the detector's defaults.
func buildScannerJobs(cfgs []config.ScannerConfig, data market.Fetcher) ([]scanner.Job, error) {
	var jobs []scanner.Job
	for _, sc := range cfgs {
		if sc.Disabled {
			logger.Infof("Scanner %s disabled", sc.Name)
			continue
		}
		var s scanner.Scanner
		switch sc.Kind {
		case config.ScannerCrossover:
			params := scanner.DefaultCrossoverConfig()
			if err := config.Decode(sc.Params, &params); err != nil {
				return nil, fmt.Errorf("scanner %s params: %w", sc.Name, err)
			}
			params.Universe = sc.Universe
			s = scanner.NewCrossover(sc.Name, params, data)
		case config.ScannerBreakout:
			params := scanner.DefaultBreakoutConfig()
			if err := config.Decode(sc.Params, &params); err != nil {
				return nil, fmt.Errorf("scanner %s params: %w", sc.Name, err)
			}
			params.Universe = sc.Universe
			s = scanner.NewBreakout(sc.Name, params, data)
		default:
			return nil, fmt.Errorf("scanner %s: unknown kind %q", sc.Name, sc.Kind)
		}
		jobs = append(jobs, scanner.Job{Scanner: s, Schedule: sc.Schedule, Timeout: sc.Timeout})
	}
	return jobs, nil
}

func newScannerRunner(coord *coordinator.Coordinator, jobs []scanner.Job) *scanner.Runner {
	return scanner.NewRunner(coord, jobs...)
}

func buildSummary(cfg *config.Config, mode coordinator.Mode, src *MarketSources, jobs []scanner.Job, table *config.StrategyTable, modelVersion int) *StartupSummary {
	s := &StartupSummary{
		Mode:       string(mode),
		Capital:    cfg.Executor.Capital,
		Threshold:  cfg.Coordinator.ExecuteThreshold,
		Sources:    src.Names,
		Strategies: table.Snapshot().Names(),
		Learning:   LearningSummary{ModelVersion: modelVersion, Restored: modelVersion > 0},
	}
	if mode != coordinator.ModeScanOnly {
		if bm, err := brokerMode(*cfg); err == nil {
			s.Broker = string(bm)
		}
	}
	if cfg.HTTP.Enabled {
		s.HTTPAddr = cfg.HTTP.Addr
	}
	// jobs follow the order of the enabled entries
	i := 0
	for _, sc := range cfg.Scanners {
		if sc.Disabled || i >= len(jobs) {
			continue
		}
		symbols := make([]string, 0, len(sc.Universe.Symbols))
		for _, in := range sc.Universe.Symbols {
			symbols = append(symbols, in.Symbol)
		}
		s.Scanners = append(s.Scanners, ScannerSummary{Name: jobs[i].Scanner.Name(), Kind: sc.Kind, Interval: jobs[i].Schedule.Interval, Symbols: symbols})
		i++
	}
	return s
}

// pruneDeadLetters trims old failures once at start and then daily.
func pruneDeadLetters(ctx context.Context, st *deadletter.Store, keep time.Duration) {
	prune := func() {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		n, err := st.Prune(pctx, time.Now().Add(-keep))
		if err != nil {
			logger.Warnf("Dead letters: prune failed: %v", err)
			return
		}
		if n > 0 {
			logger.Infof("Dead letters: pruned %d older than %s", n, keep)
		}
	}
	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
