package cmd

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/internal/app"
	"github.com/rustyeddy/tradeguard/logging"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile in-flight orders with the exchange and exit",
	Long: `Query the exchange for every order the journal still holds as pending
or submitted and apply whatever happened while the process was down. Orders
the exchange never saw are resubmitted under the same key. Exits non-zero
when any order stays unresolved.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Logging.Logging())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closer.Close()

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Exec.Reconcile(ctx); err != nil {
		return err
	}
	if err := a.Store.SavePortfolio(shutdownContext(ctx), a.Portfolio.State()); err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}

	open := a.Exec.OpenOrders()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Reconciled. %d order(s) still in flight.\n", len(open))
	if len(open) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), renderOrders(open))
	}
	return nil
}
