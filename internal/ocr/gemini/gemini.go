// Package gemini implements the OCR engine on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"plenario/internal/ocr"
	"plenario/internal/runner"

	"google.golang.org/genai"
)

// ErrInvalidConfig is returned when the engine cannot be constructed.
var ErrInvalidConfig = errors.New("invalid gemini configuration")

type Config struct {
	// APIKey may be empty when GEMINI_API_KEY or GOOGLE_API_KEY is set.
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint (tests).
	BaseURL    string
	HTTPClient *http.Client
}

// Engine sends the image and prompt to a Gemini model and asks for a JSON
// answer.
type Engine struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ ocr.Engine = (*Engine)(nil)

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return &Engine{client: client, model: cfg.Model, logger: logger}, nil
}

func (e *Engine) Name() string { return "gemini" }

func (e *Engine) Recognize(ctx context.Context, req ocr.Request) (ocr.Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(req.Prompt),
			genai.NewPartFromBytes(req.Image, req.MIMEType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	e.logger.DebugContext(ctx, "Making Gemini API call", "model", e.model, "image_bytes", len(req.Image))
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		return ocr.Response{}, classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return ocr.Response{}, fmt.Errorf("%w: no candidates", ocr.ErrEmptyResponse)
	}
	if c := resp.Candidates[0]; c.FinishReason == genai.FinishReasonSafety {
		return ocr.Response{}, runner.Permanent(errors.New("content blocked by safety filters"))
	}

	text := resp.Text()
	if text == "" {
		return ocr.Response{}, ocr.ErrEmptyResponse
	}

	out := ocr.Response{Text: text, Model: e.model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = ocr.Usage{
			Prompt:     int(u.PromptTokenCount),
			Completion: int(u.CandidatesTokenCount),
		}
		out.Usage.Total = out.Usage.Prompt + out.Usage.Completion
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	return out, nil
}

// classify marks API errors that no retry can fix.
func classify(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return runner.Permanent(fmt.Errorf("HTTP %d: %s", apiErr.Code, apiErr.Message))
	}
	return fmt.Errorf("HTTP %d: %w", apiErr.Code, err)
}
