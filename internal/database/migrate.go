package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/authgate/migrations"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded goose migrations to the database at dsn
func Migrate(ctx context.Context, dsn string, logger *slog.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	logger.Info("database migrations applied", slog.Int64("version", version))
	return nil
}
