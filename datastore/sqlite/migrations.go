package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	ds "github.com/gdrivemirror/bernard/datastore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies every pending schema migration to db using the
// goose v3 Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: creating migration filesystem: %w: %w", err, ds.ErrDatabase)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("sqlite: creating migration provider: %w: %w", err, ds.ErrDatabase)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: running migrations: %w: %w", err, ds.ErrDatabase)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}
