package steps

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"plenario/internal/config"
	"plenario/internal/fsutil"
	"plenario/internal/manifest"
	"plenario/internal/ocr"
	"plenario/internal/ocr/gemini"
	"plenario/internal/ocr/tesseract"
	"plenario/internal/output"
	"plenario/internal/stages"
)

type ocrStage struct{}

func (ocrStage) ID() string    { return "ocr" }
func (ocrStage) Title() string { return "Read headers" }
func (ocrStage) Description() string {
	return "Sends every header crop of the OCR manifest to the recognition engine and stores the parsed answer as JSON."
}

func (s ocrStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config

	rows, err := manifest.Read[manifest.Header](cfg.Paths.HeadersCSV)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	outputs, err := fsutil.Stems(cfg.Paths.OCRDir, ".json")
	if err != nil {
		return stages.Summary(s, len(rows), 0, 0, 0), setupErr(s, "%v", err)
	}
	done := func(h manifest.Header) bool {
		_, ok := outputs[strings.TrimSuffix(h.JSONName, filepath.Ext(h.JSONName))]
		return ok
	}

	engine := env.OCR
	if engine == nil && anyPending(rows, done) {
		engine, err = newEngine(ctx, cfg.OCR, env)
		if err != nil {
			return stages.Summary(s, len(rows), 0, 0, 0), setupErr(s, "%v", err)
		}
	}
	log := env.Log().With("stage", s.ID())
	rec := ocr.NewRecognizer(engine, ocr.Options{
		Prompt:        cfg.OCR.Prompt,
		SystemPrompt:  cfg.OCR.SystemPrompt,
		MaxTokens:     cfg.OCR.MaxTokens,
		ResizePercent: cfg.OCR.ResizePercent,
		Pricing:       ocr.Pricing(cfg.OCR.Pricing),
	}, log)

	var (
		mu     sync.Mutex
		tokens int
		cost   float64
	)
	sum, err := stages.RunBatch(ctx, env, s, stages.Batch[manifest.Header]{
		Retry:         cfg.OCR.Retry,
		Items:         rows,
		IsAlreadyDone: done,
		Precondition: func(h manifest.Header) bool {
			return fsutil.Exists(h.ImagePath)
		},
		Process: func(ctx context.Context, h manifest.Header) error {
			callCtx, cancel := context.WithTimeout(ctx, cfg.OCR.Timeout)
			defer cancel()

			out, err := rec.Recognize(callCtx, h.ImagePath)
			if err != nil {
				return err
			}
			if err := ocr.Save(filepath.Join(cfg.Paths.OCRDir, h.JSONName), out); err != nil {
				return fmt.Errorf("save %s: %w", h.JSONName, err)
			}
			mu.Lock()
			tokens += out.Meta.Tokens.Total
			cost += out.Meta.CostUSD
			mu.Unlock()
			log.Debug("recognized", "key", h.Key(), "json", h.JSONName, "tokens", out.Meta.Tokens.Total, "cost_usd", out.Meta.CostUSD)
			return nil
		},
	})
	mu.Lock()
	sum.Tokens, sum.CostUSD = tokens, math.Round(cost*1e5)/1e5
	mu.Unlock()
	if tokens > 0 {
		log.Info("model usage", "tokens", tokens, "cost_usd", sum.CostUSD)
	}
	return sum, err
}

func newEngine(ctx context.Context, cfg config.OCR, env *stages.Env) (ocr.Engine, error) {
	switch cfg.Engine {
	case "tesseract":
		return tesseract.New(cfg.Languages), nil
	case "gemini":
		e, err := gemini.New(ctx, gemini.Config{APIKey: cfg.APIKey, Model: cfg.Model}, env.Log())
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine %q", cfg.Engine)
	}
}
