package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"plenario/internal/runner"
)

func TestEmitSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "json")
	if err != nil {
		t.Fatalf("NewEmitSink returned error: %v", err)
	}

	_ = s.Write(ItemResult{Stage: "ocr", Key: "a", State: runner.StateSucceeded, Attempts: 1})
	_ = s.Write(StageSummary{Stage: "ocr", Total: 1, Succeeded: 1})
	_ = s.Write(StageSummary{Stage: "normalize", Total: 3, Succeeded: 3})
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	var got []StageSummary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal json output: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
}

func TestEmitSink_JSON_EmptyRunIsEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "json")
	if err != nil {
		t.Fatalf("NewEmitSink returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected [], got %q", buf.String())
	}
}

func TestEmitSink_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "ndjson")
	if err != nil {
		t.Fatalf("NewEmitSink returned error: %v", err)
	}

	_ = s.Write(ItemResult{Stage: "ocr", Key: "a", State: runner.StateSucceeded, Attempts: 1})
	_ = s.Write(ItemResult{Stage: "ocr", Key: "b", State: runner.StateFailed, Attempts: 3, Reason: "boom"})
	_ = s.Write("ignored")
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 ndjson lines, got %d", len(lines))
	}
	for _, line := range lines {
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		if e.Type != EventItemResult {
			t.Fatalf("expected event type item.result, got %q", e.Type)
		}
		if e.Result == nil {
			t.Fatalf("expected event to include result, got nil")
		}
		if e.Stage != "ocr" {
			t.Fatalf("expected stage 'ocr', got %q", e.Stage)
		}
	}
}

func TestEmitSink_InvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewEmitSink(&buf, "text"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestEmitSink_NilWriter(t *testing.T) {
	if _, err := NewEmitSink(nil, "json"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}
