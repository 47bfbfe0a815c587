package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"plenario/internal/runner"

	"github.com/fatih/color"
)

var (
	headingColor = color.New(color.Bold)
	failColor    = color.New(color.FgRed)
	okColor      = color.New(color.FgGreen)
	mutedColor   = color.New(color.Faint)
)

type ConsoleSink struct {
	writer    io.Writer
	format    string // "text", "json", "ndjson"
	verbose   bool
	mu        sync.Mutex
	machine   structured
}

// NewConsoleSink renders run output for humans (text) or machines (json,
// ndjson). In text mode only failures and stage summaries are printed unless
// verbose is set, which adds retries, successes and skips.
func NewConsoleSink(w io.Writer, format string, verbose bool) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{
		writer:  w,
		format:  format,
		verbose: verbose,
		machine: structured{ndjson: format == "ndjson"},
	}
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) writeLocked(v any) error {
	switch s.format {
	case "json", "ndjson":
		return s.machine.write(s.writer, v)
	case "text":
		if err := s.writeText(v); err != nil {
			return err
		}
		return flush(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeText(v any) error {
	printf := func(format string, args ...any) error {
		_, err := fmt.Fprintf(s.writer, format, args...)
		return err
	}

	switch t := v.(type) {
	case Event:
		switch t.Type {
		case EventStageStarted:
			return printf("%s\n", headingColor.Sprintf("==> %s (%d items)", t.Stage, t.Items))
		case EventItemAttempt:
			if !s.verbose || t.Final {
				return nil
			}
			return printf("%s %s: attempt %d/%d failed: %s (retrying in %s)\n",
				mutedColor.Sprint("[RETRY]"), t.Key, t.Attempt, t.MaxAttempts, t.Error,
				time.Duration(t.DelayMS)*time.Millisecond)
		}
		return nil
	case ItemResult:
		switch t.State {
		case runner.StateFailed:
			return printf("%s %s: %s (%s)\n", failColor.Sprint("[FAILED]"), t.Key, t.Reason, attempts(t.Attempts))
		case runner.StateSucceeded:
			if !s.verbose {
				return nil
			}
			return printf("%s %s (%s)\n", okColor.Sprint("[OK]"), t.Key, attempts(t.Attempts))
		case runner.StateSkipped:
			if !s.verbose {
				return nil
			}
			return printf("%s %s\n", mutedColor.Sprint("[SKIPPED]"), t.Key)
		}
		return nil
	case StageSummary:
		return writeSummaryText(s.writer, t)
	default:
		return nil
	}
}

// writeSummaryText prints the counts of a stage followed by at most
// runner.FailureSampleLimit failure reasons.
func writeSummaryText(w io.Writer, sum StageSummary) error {
	line := fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped of %d in %s",
		sum.Stage, sum.Succeeded, sum.Failed, sum.Skipped, sum.Total, sum.Elapsed().Round(time.Millisecond))
	if sum.AverageMS > 0 {
		line += fmt.Sprintf(" (avg %s/item)", time.Duration(sum.AverageMS)*time.Millisecond)
	}
	if sum.Tokens > 0 {
		line += fmt.Sprintf(" [%d tokens, $%.5f]", sum.Tokens, sum.CostUSD)
	}
	if sum.Cancelled {
		line += " [cancelled]"
	}
	if _, err := fmt.Fprintln(w, headingColor.Sprint(line)); err != nil {
		return err
	}
	if sum.Error != "" {
		if _, err := fmt.Fprintf(w, "  %s %s\n", failColor.Sprint("error:"), sum.Error); err != nil {
			return err
		}
	}

	sample, more := sum.FailureSample(runner.FailureSampleLimit)
	for _, f := range sample {
		if _, err := fmt.Fprintf(w, "  - %s: %s (%s)\n", f.Key, f.Reason, attempts(f.Attempts)); err != nil {
			return err
		}
	}
	if more > 0 {
		if _, err := fmt.Fprintf(w, "  ... and %d more\n", more); err != nil {
			return err
		}
	}
	return nil
}

func attempts(n int) string {
	if n == 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts", n)
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json", "ndjson":
		return s.machine.close(s.writer)
	case "text":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}
