// Package stages holds the stage registry and the plumbing every pipeline
// stage shares: the run environment and the batch adapter over the runner.
package stages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"plenario/internal/command"
	"plenario/internal/config"
	"plenario/internal/logger"
	"plenario/internal/ocr"
	"plenario/internal/output"
	"plenario/internal/vision"
)

// ErrSetup marks errors that stopped a stage before any item was scheduled:
// missing inputs, invalid manifests, unusable configuration.
var ErrSetup = errors.New("stage setup failed")

// Downloader fetches url into dest.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Rasterizer renders the pages of a PDF into outDir.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string) (int, error)
}

// Publisher stores a file in the site repository. It reports whether the
// remote content changed.
type Publisher interface {
	Put(ctx context.Context, repoPath string, content []byte) (bool, error)
}

// Env is what a stage gets to work with. Collaborator fields are optional;
// stages build the real implementation from Config when a field is nil.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	Out    *output.Manager

	Runner     command.Runner
	Downloader Downloader
	Rasterizer Rasterizer
	Classifier vision.Classifier
	Detector   vision.Detector
	OCR        ocr.Engine
	Publisher  Publisher

	// Sleep replaces the runner's backoff wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

func (e *Env) Log() *slog.Logger {
	if e.Logger == nil {
		return logger.Discard()
	}
	return e.Logger
}

// OutputFailed logs a sink error from Out. Output errors never stop a run.
func (e *Env) OutputFailed(err error) {
	if err != nil {
		e.Log().Warn("output sink failed", "error", err)
	}
}

// Started announces a stage and the number of items it is about to process.
func (e *Env) Started(stage string, items int) {
	e.OutputFailed(e.Out.StageStarted(stage, items))
}
