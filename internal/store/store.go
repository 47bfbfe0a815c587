// Package store materializes unified header records into SQL databases: the
// SQLite file shipped with the static site and an optional Postgres mirror.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"plenario/internal/headers"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Columns of the encabezados table, in insert order.
var columns = []string{"id", "tipo", "fecha_hora", "asunto", "pagina", "url"}

// Writer replaces the stored record set.
type Writer interface {
	// Replace makes the table hold exactly records, atomically.
	Replace(ctx context.Context, records []headers.Record) error
	Close() error
}

// migrate applies the embedded migrations to db.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, logger *slog.Logger) error {
	fsys, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys, goose.WithLogger(&gooseLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug("migration applied", "dialect", dialect, "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// gooseLogger routes goose output to slog. Fatalf does not exit.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "migrations")
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "migrations")
}

// args returns the column values of r in column order.
func args(r headers.Record) []any {
	return []any{r.ID, r.Tipo, r.FechaHora, r.Asunto, r.Pagina, r.URL}
}
