// Package tesseract implements the OCR engine on a local Tesseract install.
// It needs no network access and is the fallback when no API key is
// available; the answer is plain text rather than structured JSON.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"plenario/internal/ocr"

	"github.com/otiai10/gosseract/v2"
)

type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

var _ ocr.Engine = (*Engine)(nil)

func New(languages []string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize ignores the prompt and token limit. A client is created per call
// because gosseract clients are not safe for concurrent use.
func (e *Engine) Recognize(ctx context.Context, req ocr.Request) (ocr.Response, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Response{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(req.Image); err != nil {
		return ocr.Response{}, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return ocr.Response{}, fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Response{}, fmt.Errorf("recognize text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ocr.Response{}, ocr.ErrEmptyResponse
	}
	return ocr.Response{Text: text, Model: "tesseract:" + strings.Join(e.languages, "+")}, nil
}
