package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the sqlite trade journal",
	Long: `Query closed trades recorded in the SQLite journal.

Subcommands:
  trade  - Get details of a specific trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day
  stats  - Win rate and profit factor over a date range

Examples:
  tradeguard journal trade 01HS...
  tradeguard journal today
  tradeguard journal day 2024-01-15
  tradeguard journal stats --from 2024-01-01 --to 2024-02-01`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today (UTC)",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific UTC day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize trades closed in a date range",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var (
	journalDBPath string
	statsFrom     string
	statsTo       string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalStatsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal (default: journal.db_path from config)")
	journalStatsCmd.Flags().StringVar(&statsFrom, "from", "1970-01-01", "first day (inclusive)")
	journalStatsCmd.Flags().StringVar(&statsTo, "to", "", "last day (exclusive, default tomorrow)")
}

func openJournal() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal.DBPath
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return listDay(cmd, time.Now().UTC().Format(time.DateOnly))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(cmd, args[0])
}

func listDay(cmd *cobra.Command, day string) error {
	start, err := parseDay(day)
	if err != nil {
		return err
	}
	recs, err := tradesBetween(cmd, start, start.Add(24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
	return nil
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	from, err := parseDay(statsFrom)
	if err != nil {
		return err
	}
	to := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if statsTo != "" {
		if to, err = parseDay(statsTo); err != nil {
			return err
		}
	}
	recs, err := tradesBetween(cmd, from, to)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStats(journal.Stats(recs)))
	return nil
}

func tradesBetween(cmd *cobra.Command, start, end time.Time) ([]portfolio.TradeOutcome, error) {
	j, err := openJournal()
	if err != nil {
		return nil, err
	}
	defer j.Close()

	recs, err := j.ListTradesClosedBetween(cmd.Context(), start, end)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	return recs, nil
}

func parseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", day, err)
	}
	return t, nil
}
