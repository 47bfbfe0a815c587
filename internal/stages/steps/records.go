package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"plenario/internal/headers"
	"plenario/internal/manifest"
	"plenario/internal/output"
	"plenario/internal/runner"
	"plenario/internal/stages"
	"plenario/internal/store"
)

type normalizeStage struct{}

func (normalizeStage) ID() string    { return "normalize" }
func (normalizeStage) Title() string { return "Group pages by document" }
func (normalizeStage) Description() string {
	return "Groups the per-page OCR outputs into one JSON per document, keyed by page number."
}

func (s normalizeStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())

	g, err := headers.Group(cfg.Paths.OCRDir)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	env.Started(s.ID(), g.Files)

	for _, doc := range g.SortedDocuments() {
		if err := ctx.Err(); err != nil {
			return stages.Summary(s, g.Files, 0, 0, 0), err
		}
		if err := headers.WriteDocument(filepath.Join(cfg.Paths.DocumentsDir, doc+".json"), g.Documents[doc]); err != nil {
			return stages.Summary(s, g.Files, 0, 0, 0), fmt.Errorf("write %s: %w", doc, err)
		}
	}
	for _, name := range g.Ignored {
		log.Debug("ignored file", "file", name)
	}

	sum := stages.Summary(s, g.Files, g.Pages(), len(g.Problems), len(g.Ignored))
	for _, p := range g.Problems {
		sum.Failures = append(sum.Failures, runner.Failure{Key: p.File, Reason: p.Reason})
	}
	log.Info("documents written", "documents", len(g.Documents), "pages", g.Pages(), "problems", len(g.Problems))
	return sum, nil
}

type unifyStage struct{}

func (unifyStage) ID() string    { return "unify" }
func (unifyStage) Title() string { return "Unify records" }
func (unifyStage) Description() string {
	return "Flattens the per-document JSON into the record list served by the site, normalizing dates and times."
}

func (s unifyStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())

	docs, err := headers.LoadDocuments(cfg.Paths.DocumentsDir)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	history, err := manifest.ReadHistory(cfg.Paths.HistoryCSV)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}

	records, dateErrs := headers.BuildRecords(docs, headers.DocumentURLs(history))
	env.Started(s.ID(), len(records))
	headers.SortRecords(records)
	if err := ctx.Err(); err != nil {
		return stages.Summary(s, len(records), 0, 0, 0), err
	}

	if len(records) == 0 {
		log.Warn("no records built, keeping the previous records file", "path", cfg.Paths.RecordsJSON)
	} else if err := headers.WriteRecords(cfg.Paths.RecordsJSON, records); err != nil {
		return stages.Summary(s, len(records), 0, 0, 0), err
	}
	if err := headers.WriteErrors(cfg.Paths.ErrorsCSV, dateErrs); err != nil {
		return stages.Summary(s, len(records), 0, 0, 0), err
	}

	sum := stages.Summary(s, len(records), len(records)-len(dateErrs), len(dateErrs), 0)
	for _, e := range dateErrs {
		sum.Failures = append(sum.Failures, runner.Failure{
			Key:    fmt.Sprintf("%s page %s", e.ID, e.Pagina),
			Reason: fmt.Sprintf("unparseable date/time: fecha=%q hora=%q", e.Fecha, e.Hora),
		})
	}
	log.Info("records written", "records", len(records), "documents", len(docs), "date_errors", len(dateErrs))
	return sum, nil
}

type materializeStage struct{}

func (materializeStage) ID() string    { return "materialize" }
func (materializeStage) Title() string { return "Materialize databases" }
func (materializeStage) Description() string {
	return "Replaces the contents of the SQLite database (and Postgres, when configured) with the unified records."
}

func (s materializeStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())

	records, err := headers.ReadRecords(cfg.Paths.RecordsJSON)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	env.Started(s.ID(), len(records))

	sqlite, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath, log)
	if err != nil {
		return stages.Summary(s, len(records), 0, 0, 0), err
	}
	writers := []store.Writer{sqlite}
	if cfg.Store.PostgresURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Store.PostgresURL, log)
		if err != nil {
			_ = sqlite.Close()
			return stages.Summary(s, len(records), 0, 0, 0), err
		}
		writers = append(writers, pg)
	}

	var errs []error
	for _, w := range writers {
		if err := w.Replace(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", w, err))
		}
	}
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return stages.Summary(s, len(records), 0, 0, 0), err
	}

	log.Info("databases written", "records", len(records), "targets", len(writers))
	return stages.Summary(s, len(records), len(records), 0, 0), nil
}
