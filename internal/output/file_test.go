package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"plenario/internal/runner"
)

func newTempFilePath(t *testing.T, pattern string) string {
	t.Helper()

	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	path := tmp.Name()
	_ = tmp.Close()
	return path
}

func TestNewFileSink_InferFormat_FromExtension(t *testing.T) {
	path := newTempFilePath(t, "sink_*.json")
	defer os.Remove(path)

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	_ = s.Close()
}

func TestNewFileSink_InferFormat_NDJSON_FromExtension(t *testing.T) {
	path := newTempFilePath(t, "sink_*.ndjson")
	defer os.Remove(path)

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	_ = s.Close()
}

func TestNewFileSink_UnknownExtension_Errors_WhenFormatOmitted(t *testing.T) {
	path := newTempFilePath(t, "sink_*.unknown")
	defer os.Remove(path)

	_, err := NewFileSink(path, "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "cannot infer output format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFileSink_UnsupportedFormat_Errors(t *testing.T) {
	path := newTempFilePath(t, "sink_*.json")
	defer os.Remove(path)

	_, err := NewFileSink(path, "xml")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported output format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileSink_JSON_AggregatesSummaries_AndIgnoresEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	s, err := NewFileSink(path, "json")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	if err := s.Write(Event{Type: EventRunStarted}); err != nil {
		t.Fatalf("Write event failed: %v", err)
	}
	if err := s.Write(ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateSucceeded, Attempts: 1}); err != nil {
		t.Fatalf("Write result failed: %v", err)
	}
	if err := s.Write(StageSummary{Stage: "download", Total: 2, Succeeded: 1, Failed: 1,
		Failures: []runner.Failure{{Key: "b.pdf", Reason: "HTTP 404", Attempts: 1}}}); err != nil {
		t.Fatalf("Write summary failed: %v", err)
	}
	if err := s.Write(StageSummary{Stage: "rasterize", Total: 1, Succeeded: 1}); err != nil {
		t.Fatalf("Write summary failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var got []StageSummary
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v\nbody=%s", err, string(b))
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[0].Stage != "download" || got[1].Stage != "rasterize" {
		t.Fatalf("unexpected summaries order/content: %#v", got)
	}
	if len(got[0].Failures) != 1 || got[0].Failures[0].Reason != "HTTP 404" {
		t.Fatalf("unexpected failures: %#v", got[0].Failures)
	}
}

func TestFileSink_NDJSON_StreamsEventsAndResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	if err := s.Write(Event{Type: EventRunStarted, Stages: []string{"download"}}); err != nil {
		t.Fatalf("Write event failed: %v", err)
	}
	if err := s.Write(ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateSucceeded, Attempts: 2}); err != nil {
		t.Fatalf("Write result failed: %v", err)
	}
	if err := s.Write(StageSummary{Stage: "download", Total: 1, Succeeded: 1}); err != nil {
		t.Fatalf("Write summary failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 ndjson lines, got %d\nbody=%s", len(lines), string(b))
	}

	var e1 Event
	if err := json.Unmarshal([]byte(lines[0]), &e1); err != nil {
		t.Fatalf("Unmarshal line 1 failed: %v", err)
	}
	if e1.Type != EventRunStarted || len(e1.Stages) != 1 {
		t.Fatalf("unexpected run.started event: %#v", e1)
	}

	var e2 Event
	if err := json.Unmarshal([]byte(lines[1]), &e2); err != nil {
		t.Fatalf("Unmarshal line 2 failed: %v", err)
	}
	if e2.Type != EventItemResult || e2.Result == nil {
		t.Fatalf("unexpected item.result event: %#v", e2)
	}
	if e2.Result.Key != "a.pdf" || e2.Result.Attempts != 2 {
		t.Fatalf("unexpected result payload: %#v", e2.Result)
	}

	var e3 Event
	if err := json.Unmarshal([]byte(lines[2]), &e3); err != nil {
		t.Fatalf("Unmarshal line 3 failed: %v", err)
	}
	if e3.Type != EventStageFinished || e3.Summary == nil || e3.Summary.Succeeded != 1 {
		t.Fatalf("unexpected stage.finished event: %#v", e3)
	}
}
