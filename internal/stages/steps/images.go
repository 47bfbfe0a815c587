package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"plenario/internal/fsutil"
	"plenario/internal/manifest"
	"plenario/internal/output"
	"plenario/internal/pdf"
	"plenario/internal/runner"
	"plenario/internal/stages"
	"plenario/internal/vision"
)

type rasterizeStage struct{}

func (rasterizeStage) ID() string    { return "rasterize" }
func (rasterizeStage) Title() string { return "Rasterize pages" }
func (rasterizeStage) Description() string {
	return "Renders every downloaded PDF to one JPEG per page."
}

func (s rasterizeStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config

	pdfs, err := fsutil.List(cfg.Paths.PDFDir, ".pdf")
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	items := files(pdfs)
	// Page 1 is written last, so it marks a complete document.
	done := func(f file) bool {
		return fsutil.Exists(filepath.Join(cfg.Paths.ImagesDir, pdf.PageName(fsutil.Stem(f.Path()), 1)))
	}

	rz := env.Rasterizer
	if rz == nil {
		if anyPending(items, done) {
			if err := requireCommand(s, "rasterize.command", []string{cfg.Rasterize.Command}); err != nil {
				return stages.Summary(s, len(items), 0, 0, 0), err
			}
		}
		rz = pdf.NewRasterizer(pdf.Options{
			Command:     cfg.Rasterize.Command,
			DPI:         cfg.Rasterize.DPI,
			JPEGQuality: cfg.Rasterize.JPEGQuality,
			Grayscale:   cfg.Rasterize.Grayscale,
		}, env.Runner)
	}
	log := env.Log().With("stage", s.ID())

	return stages.RunBatch(ctx, env, s, stages.Batch[file]{
		Retry:         cfg.Rasterize.Retry,
		Items:         items,
		IsAlreadyDone: done,
		Process: func(ctx context.Context, f file) error {
			n, err := rz.Rasterize(ctx, f.Path(), cfg.Paths.ImagesDir)
			if err != nil {
				return err
			}
			log.Debug("rasterized", "key", f.Key(), "pages", n)
			return nil
		},
	})
}

type classifyStage struct{}

func (classifyStage) ID() string    { return "classify" }
func (classifyStage) Title() string { return "Classify pages" }
func (classifyStage) Description() string {
	return "Sorts page images into attendance, voting and other pages by copying each into its class directory."
}

func (s classifyStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config

	pages, err := fsutil.List(cfg.Paths.ImagesDir, imageExts...)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	items := files(pages)

	classified := make(map[string]struct{})
	for _, class := range cfg.Classify.Classes {
		existing, err := fsutil.List(filepath.Join(cfg.Paths.ClassificationDir, class), imageExts...)
		if err != nil {
			return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "%v", err)
		}
		for _, p := range existing {
			classified[filepath.Base(p)] = struct{}{}
		}
	}
	done := func(f file) bool {
		_, ok := classified[f.Key()]
		return ok
	}

	clf := env.Classifier
	if clf == nil {
		if anyPending(items, done) {
			if err := requireCommand(s, "classify.command", cfg.Classify.Command); err != nil {
				return stages.Summary(s, len(items), 0, 0, 0), err
			}
		}
		clf = &vision.CommandClassifier{Argv: cfg.Classify.Command, Classes: cfg.Classify.Classes, Runner: env.Runner}
	}
	log := env.Log().With("stage", s.ID())

	return stages.RunBatch(ctx, env, s, stages.Batch[file]{
		Retry:         cfg.Classify.Retry,
		Items:         items,
		IsAlreadyDone: done,
		Process: func(ctx context.Context, f file) error {
			class, err := clf.Classify(ctx, f.Path())
			if err != nil {
				return err
			}
			if err := fsutil.CopyFile(f.Path(), filepath.Join(cfg.Paths.ClassificationDir, class, f.Key())); err != nil {
				return fmt.Errorf("copy to %s: %w", class, err)
			}
			log.Debug("classified", "key", f.Key(), "class", class)
			return nil
		},
	})
}

// cropLabel names header crops; manifest.HeaderFor strips it back out.
const cropLabel = "encabezado"

// cropName is the file name of zone n of a page image stem. Page stems end
// with an underscore, so crops read <doc>_pageNNN_encabezadoN_.jpg.
func cropName(pageStem string, n int) string {
	return fmt.Sprintf("%s%s%d_.jpg", pageStem, cropLabel, n)
}

var cropStem = regexp.MustCompile(`^(.*)` + cropLabel + `\d+_$`)

type zonesStage struct{}

func (zonesStage) ID() string    { return "zones" }
func (zonesStage) Title() string { return "Crop header zones" }
func (zonesStage) Description() string {
	return "Detects the header region of every voting page and writes one crop per detected header."
}

func (s zonesStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	srcDir := filepath.Join(cfg.Paths.ClassificationDir, cfg.Classify.Target)

	pages, err := fsutil.List(srcDir, imageExts...)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	items := files(pages)

	crops, err := fsutil.List(cfg.Paths.ZonesDir, imageExts...)
	if err != nil {
		return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "%v", err)
	}
	cropped := make(map[string]struct{}, len(crops))
	for _, c := range crops {
		if m := cropStem.FindStringSubmatch(fsutil.Stem(c)); m != nil {
			cropped[m[1]] = struct{}{}
		}
	}
	done := func(f file) bool {
		_, ok := cropped[fsutil.Stem(f.Path())]
		return ok
	}

	det := env.Detector
	if det == nil {
		if anyPending(items, done) {
			if err := requireCommand(s, "zones.command", cfg.Zones.Command); err != nil {
				return stages.Summary(s, len(items), 0, 0, 0), err
			}
		}
		det = &vision.CommandDetector{Argv: cfg.Zones.Command, Runner: env.Runner}
	}
	log := env.Log().With("stage", s.ID())

	return stages.RunBatch(ctx, env, s, stages.Batch[file]{
		Retry:         cfg.Zones.Retry,
		Items:         items,
		IsAlreadyDone: done,
		Process: func(ctx context.Context, f file) error {
			dets, err := det.Detect(ctx, f.Path())
			if err != nil {
				return err
			}
			img, err := vision.LoadImage(f.Path())
			if err != nil {
				return runner.Permanent(err)
			}
			zones := vision.SelectZones(dets, cfg.Zones.Label, cfg.Zones.MarginBottom, img.Bounds())
			if len(zones) == 0 {
				// Not an error: the page is detected again on the next run.
				log.Warn("no header detected", "key", f.Key(), "detections", len(dets))
				return nil
			}
			stem := fsutil.Stem(f.Path())
			for _, z := range zones {
				dst := filepath.Join(cfg.Paths.ZonesDir, cropName(stem, z.Index))
				if err := vision.SaveJPEG(dst, vision.Crop(img, z.Rect), cfg.Rasterize.JPEGQuality); err != nil {
					return err
				}
			}
			log.Debug("cropped", "key", f.Key(), "zones", len(zones))
			return nil
		},
	})
}

type indexStage struct{}

func (indexStage) ID() string    { return "index" }
func (indexStage) Title() string { return "Index header crops" }
func (indexStage) Description() string {
	return "Writes the OCR manifest: one row per header crop with the name of its OCR output."
}

func (s indexStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config

	crops, err := fsutil.List(cfg.Paths.ZonesDir, imageExts...)
	if err != nil {
		return stages.Summary(s, 0, 0, 0, 0), setupErr(s, "%v", err)
	}
	env.Started(s.ID(), len(crops))

	rows := make([]manifest.Header, 0, len(crops))
	for _, c := range crops {
		rows = append(rows, manifest.HeaderFor(c))
	}
	if err := ctx.Err(); err != nil {
		return stages.Summary(s, len(rows), 0, 0, 0), err
	}
	if err := manifest.Write(cfg.Paths.HeadersCSV, rows); err != nil {
		return stages.Summary(s, len(rows), 0, 0, 0), err
	}
	env.Log().Info("header manifest written", "stage", s.ID(), "path", cfg.Paths.HeadersCSV, "rows", len(rows))
	return stages.Summary(s, len(rows), len(rows), 0, 0), nil
}
