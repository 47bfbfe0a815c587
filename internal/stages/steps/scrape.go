package steps

import (
	"context"
	"os"

	"plenario/internal/fsutil"
	"plenario/internal/manifest"
	"plenario/internal/output"
	"plenario/internal/scrape"
	"plenario/internal/stages"
)

type scrapeStage struct{}

func (scrapeStage) ID() string    { return "scrape" }
func (scrapeStage) Title() string { return "Scrape session index" }
func (scrapeStage) Description() string {
	return "Parses the saved session index page and merges the documents it links into the history CSV (new documents first)."
}

func (s scrapeStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())

	f, err := os.Open(cfg.Paths.TableHTML)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	defer f.Close()

	res, err := scrape.Parse(f, cfg.Scrape.BaseURL)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	env.Started(s.ID(), len(res.Documents))

	history, err := manifest.ReadHistory(cfg.Paths.HistoryCSV)
	if err != nil {
		return stages.Summary(s, len(res.Documents), 0, 0, 0), setupErr(s, "%v", err)
	}
	merged, added := manifest.MergeHistory(history, res.Documents)
	if err := ctx.Err(); err != nil {
		return stages.Summary(s, len(res.Documents), 0, 0, 0), err
	}
	if err := manifest.Write(cfg.Paths.HistoryCSV, merged); err != nil {
		return stages.Summary(s, len(res.Documents), 0, 0, 0), err
	}

	log.Info("history updated",
		"rows", len(res.Rows),
		"documents", len(res.Documents),
		"ignored_links", res.Ignored,
		"new", len(added),
		"history", len(merged),
	)
	return stages.Summary(s, len(res.Documents), len(added), 0, len(res.Documents)-len(added)), nil
}

type manifestStage struct{}

func (manifestStage) ID() string    { return "manifest" }
func (manifestStage) Title() string { return "Build download manifest" }
func (manifestStage) Description() string {
	return "Lists the history documents that have no per-document JSON yet and are not excluded."
}

func (s manifestStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())

	history, err := manifest.ReadHistory(cfg.Paths.HistoryCSV)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	env.Started(s.ID(), len(history))

	processed, err := fsutil.Stems(cfg.Paths.DocumentsDir, ".json")
	if err != nil {
		return stages.Summary(s, len(history), 0, 0, 0), setupErr(s, "%v", err)
	}
	excluded, err := manifest.ReadExclusions(cfg.Paths.ExcludedCSV)
	if err != nil {
		return stages.Summary(s, len(history), 0, 0, 0), setupErr(s, "%v", err)
	}

	pending := manifest.PendingDownloads(history, processed, excluded)
	if err := ctx.Err(); err != nil {
		return stages.Summary(s, len(history), 0, 0, 0), err
	}
	if err := manifest.Write(cfg.Paths.DownloadCSV, pending); err != nil {
		return stages.Summary(s, len(history), 0, 0, 0), err
	}

	log.Info("download manifest written",
		"path", cfg.Paths.DownloadCSV,
		"pending", len(pending),
		"processed", len(processed),
		"excluded", len(excluded),
	)
	return stages.Summary(s, len(history), len(pending), 0, len(history)-len(pending)), nil
}
