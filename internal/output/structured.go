package output

import (
	"encoding/json"
	"io"
)

// structured holds the machine-readable behaviour shared by the console, emit
// and file sinks. In json mode stage summaries are collected and written as
// one array on close; in ndjson mode every value with an event form is
// written as a line right away.
type structured struct {
	ndjson    bool
	summaries []StageSummary
}

func (s *structured) write(w io.Writer, v any) error {
	if !s.ndjson {
		if sum, ok := v.(StageSummary); ok {
			s.summaries = append(s.summaries, sum)
		}
		return nil
	}
	ev, ok := toEvent(v)
	if !ok {
		return nil
	}
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		return err
	}
	return flush(w)
}

func (s *structured) close(w io.Writer) error {
	if s.ndjson {
		return nil
	}
	summaries := s.summaries
	if summaries == nil {
		summaries = []StageSummary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return err
	}
	return flush(w)
}

// flush pushes buffered writers (bufio.Writer and friends) through so NDJSON
// readers see each line as soon as it is written.
func flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
