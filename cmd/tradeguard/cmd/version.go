package cmd

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tradeguard version %s (config schema v%d)\n", version, config.CurrentVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
