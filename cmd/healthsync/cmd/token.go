package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/service"
)

func TokenCmd() *cobra.Command {
	var userID, email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			cfg := setup()
			auth := service.NewAuthService(cfg.JWTSecret, cfg.IsProduction(), cfg.JWTExpiry)

			token, err := auth.GenerateJWT(&model.User{ID: userID, Email: email})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "optional email claim")

	return cmd
}
