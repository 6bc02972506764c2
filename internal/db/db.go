package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// sqlitePragmas keep concurrent session writers from failing fast on a
// locked database.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// Init connects with driver and verifies the connection. File-backed SQLite
// databases get their parent directory created and default pragmas applied.
func Init(driver, connection string) (*sqlx.DB, error) {
	if driver == "sqlite" {
		var err error
		if connection, err = prepareSQLite(connection); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, driver, connection)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected", "driver", driver)
	return db, nil
}

func prepareSQLite(connection string) (string, error) {
	if strings.HasPrefix(connection, ":memory:") || strings.HasPrefix(connection, "file:") {
		return connection, nil
	}

	path, query, _ := strings.Cut(connection, "?")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if strings.Contains(query, "_pragma=") {
		return connection, nil
	}

	params := make([]string, 0, len(sqlitePragmas)+1)
	if query != "" {
		params = append(params, query)
	}
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	return path + "?" + strings.Join(params, "&"), nil
}

// Open connects and, when migrate is set, brings the schema up to date.
func Open(driver, connection string, migrate bool) (*sqlx.DB, error) {
	database, err := Init(driver, connection)
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := RunMigrations(context.Background(), database.DB, driver); err != nil {
			database.Close()
			return nil, err
		}
	}

	return database, nil
}

func Close(db *sqlx.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
