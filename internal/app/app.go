package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/config"
	"github.com/templui/healthsync/internal/db"
	"github.com/templui/healthsync/internal/feed"
	"github.com/templui/healthsync/internal/repository"
	"github.com/templui/healthsync/internal/service"
	"github.com/templui/healthsync/internal/session"
	"github.com/templui/healthsync/internal/storage"
)

type App struct {
	Cfg         *config.Config
	DB          *sqlx.DB
	Repos       *repository.Set
	Broker      *feed.Broker
	Storage     storage.Storage
	AuthService *service.AuthService
	Sessions    *session.Manager
}

func New(cfg *config.Config) (*App, error) {
	// Database (migrations run on startup unless disabled)
	database, err := db.Open(cfg.DBDriver, cfg.DBConnection, cfg.DBAutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Every committed write is fanned out to the user's live sessions.
	broker := feed.NewBroker()
	repos := repository.NewSet(database, broker, cfg.RepoTimeout)

	// Snapshot storage
	snapshots, err := storage.New(cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	authService := service.NewAuthService(cfg.JWTSecret, cfg.IsProduction(), cfg.JWTExpiry)

	sessions := session.NewManager(repos, broker, snapshots, session.Options{
		Feed: feed.Config{
			BackoffBase: cfg.FeedBackoffBase,
			BackoffMax:  cfg.FeedBackoffMax,
			RetryBudget: cfg.FeedRetryBudget,
		},
		NotifyTTL:  cfg.NotifyDefaultTTL,
		WindowDays: cfg.DashboardWindowDays,
	})

	return &App{
		Cfg:         cfg,
		DB:          database,
		Repos:       repos,
		Broker:      broker,
		Storage:     snapshots,
		AuthService: authService,
		Sessions:    sessions,
	}, nil
}

// Close snapshots and ends every session, then releases the broker and the
// database.
func (a *App) Close(ctx context.Context) error {
	if a.Sessions != nil {
		a.Sessions.Close(ctx)
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.DB != nil {
		slog.Info("closing database")
		return a.DB.Close()
	}
	return nil
}
