package main

import (
	"fmt"

	"tradeloop/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the merged configuration as YAML with secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and the strategy table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := resolveConfigPath()
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		table, err := config.LoadStrategies(cfg.Strategies.Path, false)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok (%s), %d strategies, %d scanners\n",
			orDefault(path), len(table.Snapshot().Strategies), len(cfg.Scanners))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd, configCheckCmd)
}

func orDefault(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}
