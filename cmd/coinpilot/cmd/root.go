package cmd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jwlim/coinpilot/config"
)

var rootCmd = &cobra.Command{
	Use:   "coinpilot",
	Short: "An order and position lifecycle manager for spot crypto trading",
	Long: `Coinpilot manages the full lifecycle of spot crypto positions.

It provides tools for:
  - Kelly-criterion position sizing from realized trade history
  - ATR trailing stops with volatility and holding-period scaling
  - A prioritized exit waterfall (stop-loss, reversal, profit-taking)
  - Market order execution with fee and minimum-notional handling
  - Reconciling the local ledger against exchange balances`,
}

var (
	cfgPath string
	verbose bool
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// API keys come from the environment; a .env next to the binary is
	// picked up for convenience.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(cfgPath)
}
