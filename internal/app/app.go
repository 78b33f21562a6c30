// Package app wires the pipeline together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"sort"

	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/logger"
	"tradeloop/internal/predictor"
	"tradeloop/internal/scanner"
	"tradeloop/internal/store"
	"tradeloop/internal/store/deadletter"
	"tradeloop/internal/trader"
	livehttp "tradeloop/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App holds every long-running component. Build it with NewApp and start it
// with Run; Run returns after all loops have stopped and state is saved.
type App struct {
	cfg         *config.Config
	coordinator *coordinator.Coordinator
	trader      *trader.Trader
	trainer     *predictor.Trainer
	scanners    *scanner.Runner
	notify      *notifier.Async
	http        *livehttp.Server
	strategies  *config.StrategyTable
	store       store.Store
	deadLetters *deadletter.Store
	Summary     *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg)
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.coordinator == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()
	if a.Summary != nil {
		a.Summary.Print(os.Stdout)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.notify.Run(ctx) })
	group.Go(func() error { return a.coordinator.Run(ctx) })
	group.Go(func() error { return a.trainer.Run(ctx) })
	if a.trader != nil {
		group.Go(func() error { return a.trader.Run(ctx) })
	}
	if a.scanners != nil {
		group.Go(func() error { return a.scanners.Run(ctx) })
	}
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.deadLetters != nil && a.cfg.Store.DeadLetterKeep > 0 {
		group.Go(func() error {
			pruneDeadLetters(ctx, a.deadLetters, a.cfg.Store.DeadLetterKeep)
			return nil
		})
	}
	err := group.Wait()
	logger.Infof("App: all loops stopped")
	return err
}

// Coordinator exposes the decision loop for embedding and tests.
func (a *App) Coordinator() *coordinator.Coordinator {
	if a == nil {
		return nil
	}
	return a.coordinator
}

func (a *App) close() {
	logger.SetFailureSink(nil)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("App: closing store: %v", err)
		}
	}
	if a.deadLetters != nil {
		if err := a.deadLetters.Close(); err != nil {
			logger.Warnf("App: closing dead-letter store: %v", err)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
