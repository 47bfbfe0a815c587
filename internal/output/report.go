package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"plenario/internal/runner"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ReportSink writes a Markdown run report on Close. When the path ends with
// .html the Markdown is rendered to a standalone HTML page.
type ReportSink struct {
	path         string
	file         *os.File
	mu           sync.Mutex
	stages       []*stageStats
	byStage      map[string]*stageStats
	selected     []string
	startedAt    time.Time
	exitCode     int
	haveExitCode bool
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{
		path:    path,
		file:    f,
		byStage: make(map[string]*stageStats),
	}, nil
}

func (s *ReportSink) stage(id string) *stageStats {
	st, ok := s.byStage[id]
	if !ok {
		st = &stageStats{Summary: StageSummary{Stage: id}}
		s.byStage[id] = st
		s.stages = append(s.stages, st)
	}
	return st
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case ItemResult:
		st := s.stage(t.Stage)
		if t.State == runner.StateSucceeded && t.Attempts > 1 {
			st.Retried++
		}
	case StageSummary:
		s.stage(t.Stage).Summary = t
	case Event:
		switch t.Type {
		case EventRunStarted:
			s.selected = append([]string(nil), t.Stages...)
			s.startedAt = time.Now()
		case EventStageStarted:
			s.stage(t.Stage)
		case EventRunFinished:
			s.exitCode = t.ExitCode
			s.haveExitCode = true
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md := s.render()

	var out []byte
	if strings.EqualFold(filepath.Ext(s.path), ".html") {
		var html bytes.Buffer
		html.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Plenario Run Report</title></head><body>\n")
		if err := markdown.Convert([]byte(md), &html); err != nil {
			_ = s.file.Close()
			return fmt.Errorf("render report html: %w", err)
		}
		html.WriteString("</body></html>\n")
		out = html.Bytes()
	} else {
		out = []byte(md)
	}

	if _, err := s.file.Write(out); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *ReportSink) render() string {
	var b strings.Builder
	b.WriteString("# Plenario Run Report\n\n")

	// --- Overview ---
	var total, succeeded, failed, skipped int
	for _, st := range s.stages {
		total += st.Summary.Total
		succeeded += st.Summary.Succeeded
		failed += st.Summary.Failed
		skipped += st.Summary.Skipped
	}
	if len(s.selected) > 0 {
		b.WriteString(fmt.Sprintf("- **Stages selected**: %s\n", strings.Join(s.selected, ", ")))
	}
	if !s.startedAt.IsZero() {
		b.WriteString(fmt.Sprintf("- **Started**: %s\n", s.startedAt.Format(time.RFC3339)))
	}
	b.WriteString(fmt.Sprintf("- **Items**: %d total, %d succeeded, %d failed, %d skipped\n", total, succeeded, failed, skipped))
	if s.haveExitCode {
		b.WriteString(fmt.Sprintf("- **Exit code**: %d\n", s.exitCode))
	}
	b.WriteString("\n")

	// --- Stage table ---
	b.WriteString("## Stages\n\n")
	if len(s.stages) == 0 {
		b.WriteString("No stages ran.\n\n")
	} else {
		b.WriteString("| Stage | Total | Succeeded | Failed | Skipped | Retried | Elapsed | Avg/item |\n")
		b.WriteString("| --- | ---: | ---: | ---: | ---: | ---: | ---: | ---: |\n")
		for _, st := range s.stages {
			sum := st.Summary
			name := sum.Stage
			if sum.Cancelled {
				name += " (cancelled)"
			}
			avg := "-"
			if sum.AverageMS > 0 {
				avg = (time.Duration(sum.AverageMS) * time.Millisecond).String()
			}
			b.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %s | %s |\n",
				name, sum.Total, sum.Succeeded, sum.Failed, sum.Skipped, st.Retried,
				sum.Elapsed().Round(time.Millisecond), avg))
		}
		b.WriteString("\n")
	}

	// --- Stage errors ---
	var stageErrs []*stageStats
	for _, st := range s.stages {
		if st.Summary.Error != "" {
			stageErrs = append(stageErrs, st)
		}
	}
	if len(stageErrs) > 0 {
		b.WriteString("## Stage Errors\n\n")
		for _, st := range stageErrs {
			b.WriteString(fmt.Sprintf("- **%s**: %s\n", st.Summary.Stage, st.Summary.Error))
		}
		b.WriteString("\n")
	}

	// --- Failure reasons ---
	b.WriteString("## Failure Reasons\n\n")
	reasons := computeReasonStats(s.stages)
	if len(reasons) == 0 {
		b.WriteString("No failures.\n\n")
	} else {
		b.WriteString("| Stage | Reason | Affected |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, r := range reasons {
			b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", r.Stage, escapeCell(r.Reason), escapeCell(formatKeyList(r.Keys, 3))))
		}
		b.WriteString("\n")
	}

	// --- Failed items ---
	b.WriteString("## Failed Items\n\n")
	if failed == 0 {
		b.WriteString("- None\n\n")
		return b.String()
	}
	for _, st := range s.stages {
		if len(st.Summary.Failures) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("### %s\n\n", st.Summary.Stage))
		sample, more := st.Summary.FailureSample(runner.FailureSampleLimit)
		for _, f := range sample {
			b.WriteString(fmt.Sprintf("- `%s`: %s (%s)\n", f.Key, f.Reason, attempts(f.Attempts)))
		}
		if more > 0 {
			b.WriteString(fmt.Sprintf("- ... and %d more\n", more))
		}
		b.WriteString("\n")
	}
	return b.String()
}
