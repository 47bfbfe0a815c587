package steps

import (
	"context"
	"path/filepath"

	"plenario/internal/fetcher"
	"plenario/internal/fsutil"
	"plenario/internal/manifest"
	"plenario/internal/output"
	"plenario/internal/stages"
)

type downloadStage struct{}

func (downloadStage) ID() string    { return "download" }
func (downloadStage) Title() string { return "Download PDFs" }
func (downloadStage) Description() string {
	return "Downloads every document of the download manifest that is not on disk yet."
}

func (s downloadStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())

	docs, err := manifest.Read[manifest.Document](cfg.Paths.DownloadCSV)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}

	dl := env.Downloader
	if dl == nil {
		dl = fetcher.NewDownloader(fetcher.Options{
			Timeout:            cfg.Download.Timeout,
			UserAgent:          cfg.Download.UserAgent,
			InsecureSkipVerify: cfg.Download.InsecureSkipVerify,
			Logger:             env.Log(),
		})
	}
	dest := func(d manifest.Document) string {
		return filepath.Join(cfg.Paths.PDFDir, d.FileName)
	}

	return stages.RunBatch(ctx, env, s, stages.Batch[manifest.Document]{
		Retry: cfg.Download.Retry,
		Items: docs,
		IsAlreadyDone: func(d manifest.Document) bool {
			return fsutil.Exists(dest(d))
		},
		Process: func(ctx context.Context, d manifest.Document) error {
			n, err := dl.Download(ctx, d.CleanLink, dest(d))
			if err != nil {
				return err
			}
			log.Debug("downloaded", "key", d.Key(), "bytes", n)
			return nil
		},
	})
}
