// Package ocr turns header crops into structured records through a
// pluggable recognition engine and stores the engine's answer with its
// usage metadata.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"math"

	"plenario/internal/fsutil"
	"plenario/internal/runner"
	"plenario/internal/vision"
)

// ErrEmptyResponse is returned by engines that answered without any text.
var ErrEmptyResponse = errors.New("empty response from engine")

// Request is one recognition call.
type Request struct {
	Image    []byte
	MIMEType string
	Prompt   string
	// SystemPrompt is optional context for engines that accept one.
	SystemPrompt string
	MaxTokens    int
}

type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Response is the raw answer of an engine.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Engine recognizes the text in an image. Implementations must be safe for
// concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, req Request) (Response, error)
}

// Pricing is a model price in USD per 1000 tokens.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Cost estimates what u was billed, rounded to five decimals.
func (p Pricing) Cost(u Usage) float64 {
	c := (float64(u.Prompt)*p.InputPer1K + float64(u.Completion)*p.OutputPer1K) / 1000
	return math.Round(c*1e5) / 1e5
}

type Meta struct {
	Engine  string   `json:"engine"`
	Model   string   `json:"model,omitempty"`
	Tokens  Usage    `json:"tokens"`
	CostUSD float64  `json:"cost_usd"`
	Pricing *Pricing `json:"pricing,omitempty"`
}

// Output is the file written per header crop. Output holds the parsed JSON
// value, or the raw text when the answer was not JSON.
type Output struct {
	Output any  `json:"output"`
	Meta   Meta `json:"meta"`
}

type Options struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	// Pricing prices the reported token usage. The zero value records no cost.
	Pricing Pricing
	// ResizePercent scales the image before upload; 100 keeps it as is.
	ResizePercent int
}

// Recognizer prepares crops for an Engine and stores the results.
type Recognizer struct {
	engine Engine
	opts   Options
	logger *slog.Logger
}

func NewRecognizer(engine Engine, opts Options, logger *slog.Logger) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ResizePercent == 0 {
		opts.ResizePercent = 100
	}
	return &Recognizer{engine: engine, opts: opts, logger: logger}
}

// Recognize runs the engine over the image at imagePath.
func (r *Recognizer) Recognize(ctx context.Context, imagePath string) (*Output, error) {
	img, err := vision.LoadImage(imagePath)
	if err != nil {
		return nil, runner.Permanent(err)
	}
	img = vision.Scale(img, r.opts.ResizePercent)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	resp, err := r.engine.Recognize(ctx, Request{
		Image:        buf.Bytes(),
		MIMEType:     "image/png",
		Prompt:       r.opts.Prompt,
		SystemPrompt: r.opts.SystemPrompt,
		MaxTokens:    r.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.engine.Name(), err)
	}

	parsed, ok := ParseResponse(resp.Text)
	if !ok {
		r.logger.Warn("response is not JSON, stored as text", "image", imagePath, "engine", r.engine.Name())
	}
	meta := Meta{Engine: r.engine.Name(), Model: resp.Model, Tokens: resp.Usage}
	if r.opts.Pricing != (Pricing{}) {
		pricing := r.opts.Pricing
		meta.Pricing = &pricing
		meta.CostUSD = pricing.Cost(resp.Usage)
	}
	return &Output{Output: parsed, Meta: meta}, nil
}

// Save writes out as indented JSON to path, atomically.
func Save(path string, out *Output) error {
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	})
}

// Load reads an output file written by Save.
func Load(data []byte) (*Output, error) {
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
