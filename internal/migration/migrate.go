package migration

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Run creates the router schema if needed and applies all pending migrations.
func Run(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "migration").Logger()

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS router"); err != nil {
		return errors.Wrap(err, "failed to create schema router")
	}

	goose.SetBaseFS(embeddedMigrations)
	goose.SetTableName("router.goose_db_version")
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}

	logger.Info().Msg("migrations completed successfully")
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}
