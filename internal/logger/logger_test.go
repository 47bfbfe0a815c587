package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", "json", &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "stage", "ocr")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "ocr", entry["stage"])
}

func TestNew_TextIsDefault(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("", "", &buf)
	require.NoError(t, err)

	log.Info("hello", "key", "doc.pdf")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "key=doc.pdf")
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	_, err := New("loud", "text", nil)
	assert.Error(t, err)

	_, err = New("info", "xml", nil)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
