package site

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"plenario/internal/headers"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Query filters the record list. Zero values match everything.
type Query struct {
	// Asunto matches records whose subject contains it, ignoring case,
	// accents and punctuation.
	Asunto string

	// From and To are inclusive calendar days (YYYY-MM-DD). To covers the
	// whole day.
	From string
	To   string

	Offset int
	Limit  int // 0 means no limit
}

func (q Query) validate() error {
	for _, d := range []string{q.From, q.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", d)
		}
	}
	if q.From != "" && q.To != "" && q.From > q.To {
		return fmt.Errorf("from %s is after to %s", q.From, q.To)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("offset and limit must be >= 0")
	}
	return nil
}

// Search returns the page of matching records (newest first, undated last)
// and the number of matches before paging.
func Search(records []headers.Record, q Query) ([]headers.Record, int) {
	needle := Fold(q.Asunto)
	var lower, upper string
	if q.From != "" {
		lower = q.From + " 00:00:00"
	}
	if q.To != "" {
		upper = q.To + " 23:59:59"
	}

	matched := make([]headers.Record, 0, len(records))
	for _, r := range records {
		if needle != "" && (r.Asunto == nil || !strings.Contains(Fold(*r.Asunto), needle)) {
			continue
		}
		if lower != "" || upper != "" {
			// Undated records never satisfy a date bound.
			if r.FechaHora == nil {
				continue
			}
			if lower != "" && *r.FechaHora < lower {
				continue
			}
			if upper != "" && *r.FechaHora > upper {
				continue
			}
		}
		matched = append(matched, r)
	}
	headers.SortRecords(matched)

	total := len(matched)
	if q.Offset >= total {
		return []headers.Record{}, total
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, total
}

// Fold lowercases s, strips diacritics and drops everything but ASCII
// letters, digits, underscores and whitespace, collapsing whitespace runs.
func Fold(s string) string {
	// Chained transformers keep state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
