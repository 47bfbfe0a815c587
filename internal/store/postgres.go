package store

import (
	"context"
	"fmt"
	"log/slog"

	"plenario/internal/headers"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres mirrors the records into a Postgres database.
type Postgres struct {
	conn *pgx.Conn
}

var _ Writer = (*Postgres)(nil)

// OpenPostgres connects to url and migrates the schema.
func OpenPostgres(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	err = migrate(ctx, db, goose.DialectPostgres, logger)
	_ = db.Close()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{conn: conn}, nil
}

// Replace sends the whole record set as one batch inside a transaction.
func (p *Postgres) Replace(ctx context.Context, records []headers.Record) error {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM encabezados`)
	insert := upsertSQL("$")
	for _, r := range records {
		batch.Queue(insert, args(r)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write encabezados: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Close() error {
	return p.conn.Close(context.Background())
}
