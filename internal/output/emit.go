package output

import (
	"fmt"
	"io"
	"sync"
)

// EmitSink writes an additional structured stream, usually to stdout.
//
// Formats:
//   - json: aggregates stage summaries and writes a single JSON array on Close
//   - ndjson: streams Event values (one JSON object per line)
type EmitSink struct {
	writer  io.Writer
	mu      sync.Mutex
	machine structured
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{writer: w, machine: structured{ndjson: format == "ndjson"}}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.write(s.writer, v)
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.close(s.writer)
}
