package cmd

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/internal/app"
	"github.com/rustyeddy/tradeguard/logging"
	"github.com/spf13/cobra"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List or cancel in-flight orders",
	Long: `Work with orders the journal holds as PENDING or SUBMITTED.

Examples:
  tradeguard orders open
  tradeguard orders cancel 3f2a...`,
}

var ordersOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List non-terminal orders",
	Args:  cobra.NoArgs,
	RunE:  runOrdersOpen,
}

var ordersCancelCmd = &cobra.Command{
	Use:   "cancel <client-order-id>",
	Short: "Cancel an in-flight order",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrdersCancel,
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersOpenCmd)
	ordersCmd.AddCommand(ordersCancelCmd)
}

func runOrdersOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	orders, err := store.OpenOrders(cmd.Context())
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderOrders(orders))
	return nil
}

func runOrdersCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	a, err := app.Build(cmd.Context(), cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.Exec.Cancel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is %s\n", o.ClientOrderID, o.State)
	return nil
}
