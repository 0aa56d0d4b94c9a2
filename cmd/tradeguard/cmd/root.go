package cmd

import (
	"context"
	"fmt"

	"github.com/rustyeddy/tradeguard/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tradeguard",
	Short: "A regime-aware, risk-gated crypto trading engine",
	Long: `Tradeguard runs an ensemble of strategies over closed bars and only
lets orders through when the risk manager and every circuit breaker agree.

It provides tools for:
  - Paper trading against a simulated exchange or replayed CSV bars
  - Live trading on Binance spot
  - Inspecting and resetting circuit breakers
  - Listing in-flight orders and querying the trade journal`,
	SilenceUsage: true,
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tradeguard.yaml", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with secrets")
}

// loadConfig reads and validates the config file, then pulls secrets from
// the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.LoadEnv(envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// shutdownContext outlives cancellation so cleanup writes still land.
func shutdownContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
