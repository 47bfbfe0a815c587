package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"plenario/internal/runner"
)

func TestConsoleSink_TextVerbosity(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		input       any
		shouldWrite bool
	}{
		{
			name:        "failed result always printed",
			input:       ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateFailed, Attempts: 5, Reason: "HTTP 500"},
			shouldWrite: true,
		},
		{
			name:        "succeeded result hidden by default",
			input:       ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateSucceeded, Attempts: 1},
			shouldWrite: false,
		},
		{
			name:        "succeeded result printed when verbose",
			verbose:     true,
			input:       ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateSucceeded, Attempts: 1},
			shouldWrite: true,
		},
		{
			name:        "skipped result hidden by default",
			input:       ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateSkipped},
			shouldWrite: false,
		},
		{
			name:        "retry hidden by default",
			input:       Event{Type: EventItemAttempt, Key: "a.pdf", Attempt: 1, MaxAttempts: 3, Error: "boom", DelayMS: 10},
			shouldWrite: false,
		},
		{
			name:        "retry printed when verbose",
			verbose:     true,
			input:       Event{Type: EventItemAttempt, Key: "a.pdf", Attempt: 1, MaxAttempts: 3, Error: "boom", DelayMS: 10},
			shouldWrite: true,
		},
		{
			name:        "final attempt left to the result line",
			verbose:     true,
			input:       Event{Type: EventItemAttempt, Key: "a.pdf", Attempt: 3, MaxAttempts: 3, Error: "boom", Final: true},
			shouldWrite: false,
		},
		{
			name:        "stage start printed",
			input:       Event{Type: EventStageStarted, Stage: "ocr", Items: 12},
			shouldWrite: true,
		},
		{
			name:        "run events ignored",
			input:       Event{Type: EventRunStarted},
			shouldWrite: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewConsoleSink(&buf, "text", tt.verbose)

			if err := sink.Write(tt.input); err != nil {
				t.Fatalf("Write error: %v", err)
			}

			wroteSomething := buf.Len() > 0
			if tt.shouldWrite && !wroteSomething {
				t.Errorf("expected output, got none")
			}
			if !tt.shouldWrite && wroteSomething {
				t.Errorf("expected no output, got: %q", buf.String())
			}
		})
	}
}

func TestConsoleSink_SummaryCapsFailures(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "text", false)

	sum := StageSummary{Stage: "ocr", Total: 14, Succeeded: 1, Failed: 13, ElapsedMS: 1500, AverageMS: 107}
	for i := range 13 {
		sum.Failures = append(sum.Failures, runner.Failure{Key: fmt.Sprintf("k%02d", i), Reason: "boom", Attempts: 3})
	}
	if err := sink.Write(sum); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"ocr: 1 succeeded, 13 failed, 0 skipped of 14 in 1.5s",
		"avg 107ms/item",
		"- k00: boom (3 attempts)",
		"- k09: boom (3 attempts)",
		"... and 3 more",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q; got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "k10") {
		t.Errorf("summary should list at most %d failures; got:\n%s", runner.FailureSampleLimit, out)
	}
}

func TestConsoleSink_JSON_AggregatesSummaries(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "json", false)

	_ = sink.Write(Event{Type: EventRunStarted})
	_ = sink.Write(ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateSucceeded, Attempts: 1})
	_ = sink.Write(StageSummary{Stage: "download", Total: 1, Succeeded: 1})
	if buf.Len() != 0 {
		t.Fatalf("json console should buffer until Close, got %q", buf.String())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	var got []StageSummary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal failed: %v\nbody=%s", err, buf.String())
	}
	if len(got) != 1 || got[0].Stage != "download" || got[0].Succeeded != 1 {
		t.Fatalf("unexpected summaries: %#v", got)
	}
}

func TestConsoleSink_NDJSON_WrapsResults(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "ndjson", false)

	fail := ItemResult{Stage: "download", Key: "a.pdf", State: runner.StateFailed, Attempts: 2, Reason: "HTTP 404"}
	if err := sink.Write(fail); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	var e Event
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("invalid json line %q: %v", buf.String(), err)
	}
	if e.Type != EventItemResult || e.Result == nil {
		t.Fatalf("unexpected event: %#v", e)
	}
	if e.Stage != "download" || e.Key != "a.pdf" || e.Result.State != runner.StateFailed {
		t.Fatalf("unexpected event payload: %#v", e)
	}
}

func TestConsoleSink_UnsupportedFormat(t *testing.T) {
	sink := NewConsoleSink(&bytes.Buffer{}, "xml", false)
	if err := sink.Write(Event{Type: EventRunStarted}); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if err := sink.Close(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}
