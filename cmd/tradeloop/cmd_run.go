package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradeloop/internal/app"
	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/logger"

	"github.com/spf13/cobra"
)

var (
	runMode   string
	runBroker string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline until interrupted",
	Long: `Run loads the configuration, restores learner and executor state,
reconciles open positions with the broker and starts every loop.

Modes:
  scan-only  rank and display, never trade
  manual     queue opportunities above the threshold for approval
  auto       execute opportunities above the threshold
  paper      like auto, always on the paper broker

Examples:
  tradeloop run --mode scan-only
  tradeloop run --mode auto --broker live -c configs/live.yaml`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runMode, "mode", "", "override coordinator.mode")
	runCmd.Flags().StringVar(&runBroker, "broker", "", "override broker.mode (paper, live)")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runMode != "" {
		mode, err := coordinator.ParseMode(runMode)
		if err != nil {
			return err
		}
		cfg.Coordinator.Mode = mode
	}
	if runBroker != "" {
		cfg.Broker.Mode = runBroker
	}

	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("Config loaded (env=%s mode=%s broker=%s)", cfg.App.Env, cfg.Coordinator.Mode, cfg.Broker.Mode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Infof("Shutdown complete")
	return nil
}
