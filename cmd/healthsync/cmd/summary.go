package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/templui/healthsync/internal/db"
	"github.com/templui/healthsync/internal/repository"
	"github.com/templui/healthsync/internal/service"
)

func SummaryCmd() *cobra.Command {
	var userID string
	var days int

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print a user's dashboard summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			cfg := setup()
			database, err := db.Open(cfg.DBDriver, cfg.DBConnection, false)
			if err != nil {
				return err
			}
			defer database.Close()

			repos := repository.NewSet(database, nil, cfg.RepoTimeout)
			dashboard := service.NewDashboardService(repos, cfg.DashboardWindowDays)

			summary, err := dashboard.Summary(cmd.Context(), userID, days)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&days, "days", 0, "window in days (default from config)")

	return cmd
}
