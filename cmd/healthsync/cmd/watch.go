package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/templui/healthsync/internal/feed"
	"github.com/templui/healthsync/internal/logger"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/notify"
)

// WatchCmd follows a user's change feed on a running server. It uses the
// same subscriber a session uses, so reconnects, backoff and the retry
// budget behave identically.
func WatchCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		userID    string
		types     []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live changes for a user from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || token == "" {
				return fmt.Errorf("--user and --token are required")
			}

			resourceTypes := make([]model.ResourceType, 0, len(types))
			for _, s := range types {
				t, err := model.ParseResourceType(s)
				if err != nil {
					return err
				}
				resourceTypes = append(resourceTypes, t)
			}

			logger.Init(logger.Options{Development: true, Level: "warn"})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, &feed.WSTransport{BaseURL: serverURL, Token: token}, userID, resourceTypes)
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8090", "server base url")
	cmd.Flags().StringVar(&token, "token", "", "API token (see: healthsync token)")
	cmd.Flags().StringVar(&userID, "user", "", "user id the token was issued for")
	cmd.Flags().StringSliceVar(&types, "type", nil, "resource types to follow (default all)")

	return cmd
}

func runWatch(ctx context.Context, transport feed.PubSub, userID string, types []model.ResourceType) error {
	notes := notify.New(time.Minute)
	defer notes.Close()

	sub := feed.NewSubscriber(transport, userID, feed.Config{}, notes)
	sub.Start(types...)
	defer sub.Close()

	updates, cancel := notes.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%s %-18s %-6s %s v%d\n",
				ev.ReceivedAt.Format(time.TimeOnly), ev.ResourceType, ev.Operation, ev.ResourceID, ev.Version)
		case t, ok := <-sub.Resync():
			if !ok {
				return nil
			}
			fmt.Printf("subscribed to %s\n", t)
		case list, ok := <-updates:
			if !ok {
				return nil
			}
			for _, n := range list {
				fmt.Printf("[%s] %s: %s\n", n.Type, n.Title, n.Message)
				notes.Remove(n.ID)
			}
		}
	}
}
