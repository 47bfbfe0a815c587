// Package pdf renders PDF pages to JPEG images with poppler's pdftoppm.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"plenario/internal/command"
)

// ErrNoPages is returned when the renderer produced no images.
var ErrNoPages = errors.New("no pages rendered")

type Options struct {
	// Command is the pdftoppm executable.
	Command     string
	DPI         int
	JPEGQuality int
	Grayscale   bool
}

type Rasterizer struct {
	opts   Options
	runner command.Runner
}

func NewRasterizer(opts Options, runner command.Runner) *Rasterizer {
	if runner == nil {
		runner = command.Exec{}
	}
	if opts.Command == "" {
		opts.Command = "pdftoppm"
	}
	return &Rasterizer{opts: opts, runner: runner}
}

// PageName is the image name of page n (1-based) of the document stem.
func PageName(stem string, n int) string {
	return fmt.Sprintf("%s_page%03d_.jpg", stem, n)
}

// pdftoppm names pages <prefix>-<n>.jpg with n zero-padded to the page count width.
var renderedPage = regexp.MustCompile(`-(\d+)\.jpe?g$`)

// Rasterize renders every page of pdfPath into outDir as <stem>_pageNNN_.jpg
// and returns the page count. Pages are rendered into a scratch directory
// first; page 1 is moved into place last, so its presence means the document
// is complete.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath, outDir string) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	scratch, err := os.MkdirTemp(outDir, ".render-"+stem+"-*")
	if err != nil {
		return 0, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	args := []string{
		"-r", strconv.Itoa(r.opts.DPI),
		"-jpeg",
		"-jpegopt", "quality=" + strconv.Itoa(r.opts.JPEGQuality),
	}
	if r.opts.Grayscale {
		args = append(args, "-gray")
	}
	args = append(args, pdfPath, filepath.Join(scratch, "page"))

	if _, err := r.runner.Run(ctx, r.opts.Command, args...); err != nil {
		return 0, err
	}

	pages, err := renderedPages(scratch)
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, ErrNoPages
	}

	// Highest page first so page 1 lands last.
	for i := len(pages) - 1; i >= 0; i-- {
		p := pages[i]
		if err := os.Rename(p.path, filepath.Join(outDir, PageName(stem, p.n))); err != nil {
			return 0, fmt.Errorf("move page %d: %w", p.n, err)
		}
	}
	return len(pages), nil
}

type renderedFile struct {
	n    int
	path string
}

func renderedPages(dir string) ([]renderedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []renderedFile
	for _, e := range entries {
		m := renderedPage.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		out = append(out, renderedFile{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })
	return out, nil
}
