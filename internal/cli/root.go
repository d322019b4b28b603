// Package cli implements the qwatch command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/qwatch/internal/config"
)

var (
	cfgFile    string
	cfg        *config.Config
	outputMode string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "qwatch",
	Short: "Monitor usage quotas of the local Codeium language server",
	Long: `qwatch discovers the locally running Codeium language server by
inspecting the OS process table, probes its listening ports to find the
working API endpoint, and polls usage quotas over it.

Quick Start:
  qwatch status              # One-shot quota check
  qwatch watch               # Live dashboard, polls continuously
  qwatch discover            # Show the discovered endpoint
  qwatch history --limit 20  # Recorded snapshots (watch --record)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "completion" {
			return nil
		}
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/qwatch/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
