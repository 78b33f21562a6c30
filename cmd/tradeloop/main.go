package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"tradeloop/internal/config"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/tradeloop.yaml"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tradeloop",
	Short: "Signal pipeline: scan, validate, score, rank, execute, learn",
	Long: `tradeloop runs scanners on a schedule and pushes their candidates through
technical validation, predictive scoring and ranking. Depending on the mode
the best opportunities are only shown, queued for approval, or executed
against a paper or live broker. Closed trades feed four learners that tune
the ranking over time.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $"+config.EnvConfigPath+" or "+defaultConfigPath+")")
}

// resolveConfigPath prefers the flag, then the environment, then the
// default file if it exists.
func resolveConfigPath() string {
	if p := strings.TrimSpace(configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
