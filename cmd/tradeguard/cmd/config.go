package cmd

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/tradeguard/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage tradeguard configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  tradeguard config init -o tradeguard.yaml
  tradeguard config validate -c tradeguard.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and the secrets it needs",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "tradeguard.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nSecrets are read from the environment or a .env file:")
	fmt.Fprintf(out, "  %s, %s, %s, %s\n", config.EnvBinanceKey, config.EnvBinanceSecret, config.EnvPostgresDSN, config.EnvInfluxToken)
	fmt.Fprintf(out, "\nEdit the file and run with:\n  tradeguard run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	var names []string
	for _, s := range cfg.EnabledStrategies() {
		names = append(names, s.Name)
	}
	fmt.Fprintf(out, "✓ Configuration valid: %s (v%d)\n", cfgFile, cfg.Version)
	fmt.Fprintf(out, "  Mode: %s, feed: %s\n", cfg.Mode, cfg.Feed.Source)
	fmt.Fprintf(out, "  Symbols: %s @ %s\n", strings.Join(cfg.Pipeline.Symbols, ", "), cfg.Pipeline.Timeframe)
	fmt.Fprintf(out, "  Strategies: %s (%s consensus, min %d)\n", strings.Join(names, ", "), cfg.Ensemble.Mode, cfg.Ensemble.MinAgree)
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Driver)
	return nil
}
