package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plenario/internal/logger"
	"plenario/internal/ocr"
	"plenario/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, handler http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := New(context.Background(), Config{APIKey: "test-key", Model: "gemini-2.0-flash", BaseURL: srv.URL}, logger.Discard())
	require.NoError(t, err)
	return e
}

func TestEngine_Recognize(t *testing.T) {
	var body map[string]any
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"tipo\": \"VOTACIÓN\"}"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 30, "totalTokenCount": 150}
		}`)
	})

	resp, err := e.Recognize(context.Background(), ocr.Request{
		Image:        []byte{0x89, 'P', 'N', 'G'},
		MIMEType:     "image/png",
		Prompt:       "DEVUELVE UN JSON",
		SystemPrompt: "Eres un experto en OCR",
		MaxTokens:    2500,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"tipo": "VOTACIÓN"}`, resp.Text)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, ocr.Usage{Prompt: 120, Completion: 30, Total: 150}, resp.Usage)

	gen, _ := body["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.EqualValues(t, 2500, gen["maxOutputTokens"])

	sys, _ := body["systemInstruction"].(map[string]any)
	parts, _ := sys["parts"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "Eres un experto en OCR", parts[0].(map[string]any)["text"])
}

func TestEngine_Recognize_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		wantErr   error
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error": {"code": 500, "message": "internal", "status": "INTERNAL"}}`},
		{name: "bad key", status: http.StatusForbidden, body: `{"error": {"code": 403, "message": "denied", "status": "PERMISSION_DENIED"}}`, permanent: true},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates": []}`, wantErr: ocr.ErrEmptyResponse},
		{name: "blocked", status: http.StatusOK, body: `{"candidates": [{"finishReason": "SAFETY"}]}`, permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := e.Recognize(context.Background(), ocr.Request{Image: []byte("x"), MIMEType: "image/png", Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, runner.IsPermanent(err), "err = %v", err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(context.Background(), Config{APIKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
