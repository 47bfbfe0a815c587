package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"plenario/internal/headers"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLite is the database file served next to the static site.
type SQLite struct {
	db *sql.DB
}

var _ Writer = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; also keeps the migration and the replace on one connection.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, goose.DialectSQLite3, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Replace(ctx context.Context, records []headers.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM encabezados`); err != nil {
		return fmt.Errorf("clear encabezados: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL("?"))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, args(r)...); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// All returns every record, newest first and undated last.
func (s *SQLite) All(ctx context.Context) ([]headers.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tipo, fecha_hora, asunto, pagina, url
		FROM encabezados
		ORDER BY fecha_hora IS NULL, fecha_hora DESC, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []headers.Record
	for rows.Next() {
		var r headers.Record
		var pagina sql.NullString
		if err := rows.Scan(&r.ID, &r.Tipo, &r.FechaHora, &r.Asunto, &pagina, &r.URL); err != nil {
			return nil, err
		}
		r.Pagina = pagina.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// upsertSQL builds the insert statement. placeholder is "?" or "$" (numbered).
func upsertSQL(placeholder string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		if placeholder == "$" {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = placeholder
		}
	}
	updates := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO encabezados (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		strings.Join(columns, ", "), strings.Join(marks, ", "), strings.Join(updates, ", "))
}
