package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/templui/healthsync/cmd/healthsync/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "healthsync",
		Short:        "Health tracking sync server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.ServeCmd())
	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.SummaryCmd())
	rootCmd.AddCommand(cmd.TokenCmd())
	rootCmd.AddCommand(cmd.WatchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
