package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/internal/app"
	"github.com/rustyeddy/tradeguard/logging"
	"github.com/spf13/cobra"
)

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Inspect or reset circuit breakers",
	Long: `Inspect or reset the persisted circuit breakers.

Kinds: asset, portfolio, consecutive_loss, flash_crash. The scope is a symbol
or "*" for breakers that cover every symbol.

Examples:
  tradeguard breakers status
  tradeguard breakers reset portfolio '*'
  tradeguard breakers reset asset BTCUSDT`,
}

var breakersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every breaker and its lockout",
	Args:  cobra.NoArgs,
	RunE:  runBreakersStatus,
}

var breakersResetCmd = &cobra.Command{
	Use:   "reset <kind> <scope>",
	Short: "Clear a tripped breaker before its lockout expires",
	Args:  cobra.ExactArgs(2),
	RunE:  runBreakersReset,
}

func init() {
	rootCmd.AddCommand(breakersCmd)
	breakersCmd.AddCommand(breakersStatusCmd)
	breakersCmd.AddCommand(breakersResetCmd)
}

func openBank(cmd *cobra.Command) (*breaker.Bank, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := app.OpenStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	bank := breaker.NewBank(cfg.Breakers.Breaker(), store, logging.Discard())
	if err := bank.Load(cmd.Context()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load breakers: %w", err)
	}
	return bank, func() { store.Close() }, nil
}

func runBreakersStatus(cmd *cobra.Command, args []string) error {
	bank, done, err := openBank(cmd)
	if err != nil {
		return err
	}
	defer done()

	fmt.Fprintln(cmd.OutOrStdout(), renderBreakers(bank.States(), time.Now()))
	return nil
}

func runBreakersReset(cmd *cobra.Command, args []string) error {
	kind, err := breaker.ParseKind(args[0])
	if err != nil {
		return err
	}

	bank, done, err := openBank(cmd)
	if err != nil {
		return err
	}
	defer done()

	if err := bank.Reset(cmd.Context(), kind, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %s[%s]\n", kind, args[1])
	return nil
}
