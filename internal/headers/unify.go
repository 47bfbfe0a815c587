package headers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"plenario/internal/fsutil"
	"plenario/internal/manifest"
)

// Record is one header of a voting page, as served to the site.
type Record struct {
	ID        string  `json:"id"`
	Tipo      *string `json:"tipo"`
	FechaHora *string `json:"fecha_hora"`
	Asunto    *string `json:"asunto"`
	Pagina    string  `json:"pagina"`
	URL       *string `json:"url"`
}

// DateError is a record whose date or time could not be normalized. Fecha
// and Hora keep the values as read.
type DateError struct {
	ID     string `csv:"id"`
	Pagina string `csv:"pagina"`
	Fecha  string `csv:"fecha"`
	Hora   string `csv:"hora"`
}

// BuildRecords flattens per-document page objects into records. urls maps a
// document ID to its PDF link; pages get a #page=N fragment.
func BuildRecords(docs map[string]Pages, urls map[string]string) ([]Record, []DateError) {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []Record
	var errs []DateError
	for _, docID := range ids {
		pages := docs[docID]
		for _, page := range sortedPages(pages) {
			var fields map[string]any
			if err := json.Unmarshal(pages[page], &fields); err != nil || fields == nil {
				continue
			}

			pagina := normalizePage(page)
			fecha, hora := stringField(fields, "fecha"), stringField(fields, "hora")
			fechaHora, ok := CombineDateTime(deref(fecha), deref(hora))
			if !ok {
				errs = append(errs, DateError{ID: docID, Pagina: pagina, Fecha: deref(fecha), Hora: deref(hora)})
			}

			rec := Record{
				ID:     docID + "_" + formatPage(page),
				Tipo:   stringField(fields, "tipo"),
				Asunto: stringField(fields, "asunto"),
				Pagina: pagina,
			}
			if ok {
				rec.FechaHora = &fechaHora
			}
			if base := urls[docID]; base != "" {
				u := base + "#page=" + pagina
				rec.URL = &u
			}
			records = append(records, rec)
		}
	}
	return records, errs
}

// SortRecords orders records newest first; records without fecha_hora go
// last, each group keeping its relative order.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].FechaHora, records[j].FechaHora
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

// DocumentURLs maps document IDs to their links from the document history.
func DocumentURLs(history []manifest.Document) map[string]string {
	out := make(map[string]string, len(history))
	for _, d := range history {
		if d.FileName == "" || d.CleanLink == "" {
			continue
		}
		out[d.ID()] = d.CleanLink
	}
	return out
}

// LoadDocuments reads every per-document JSON in dir, keyed by file stem.
func LoadDocuments(dir string) (map[string]Pages, error) {
	files, err := fsutil.List(dir, ".json")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Pages, len(files))
	for _, path := range files {
		pages, err := ReadDocument(path)
		if err != nil {
			return nil, err
		}
		out[fsutil.Stem(path)] = pages
	}
	return out, nil
}

func WriteRecords(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := marshalIndent(records)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// WriteErrors writes the date errors CSV, or removes it when there are none.
func WriteErrors(path string, errs []DateError) error {
	if len(errs) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return manifest.Write(path, errs)
}

// CombineDateTime returns "YYYY-MM-DD HH:MM:SS" when both parts normalize.
func CombineDateTime(fecha, hora string) (string, bool) {
	d, ok := NormalizeDate(fecha)
	if !ok {
		return "", false
	}
	t, ok := NormalizeTime(hora)
	if !ok {
		return "", false
	}
	return d + " " + t, true
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeDate parses day/month/year dates as read from the headers
// ("07/03/2013", "7-3-13", "07.03.2013") into YYYY-MM-DD. Two-digit years
// are taken as 20YY.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	s = strings.NewReplacer("-", "/", ".", "/").Replace(s)
	s = whitespace.ReplaceAllString(s, "")

	if parts := strings.Split(s, "/"); len(parts) == 3 && len(parts[2]) == 2 {
		parts[2] = "20" + parts[2]
		s = strings.Join(parts, "/")
	}
	t, err := time.Parse("2/1/2006", s)
	if err != nil {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

var (
	colonSuffix    = regexp.MustCompile(`:\s*(AM|PM)$`)
	gluedSuffix    = regexp.MustCompile(`(\d)(AM|PM)$`)
	spacedSuffix   = regexp.MustCompile(`\s+(AM|PM)$`)
	midnight12h    = regexp.MustCompile(`\b00:(\d{1,2})(?::\d{1,2})?\s*(AM|PM)$`)
	leadingZeroHrs = regexp.MustCompile(`\b00:`)
	zeroHour12h    = regexp.MustCompile(`^0:\d{1,2}(?::\d{1,2})? (AM|PM)$`)

	timeLayouts = []string{
		"3:4 PM",
		"3:4PM",
		"3:4:5 PM",
		"3:4:5PM",
		"15:4",
		"15:4:5",
	}
)

// NormalizeTime parses 12- and 24-hour times as read from the headers
// ("06:54 p.m.", "6:54PM", "06:54:PM", "18:54") into HH:MM:SS. A 12-hour time
// needs an hour from 1 to 12; the OCR misreading "00:MM" is taken as 12:MM,
// but a single "0" hour is rejected.
func NormalizeTime(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = colonSuffix.ReplaceAllString(s, "$1")
	s = gluedSuffix.ReplaceAllString(s, "$1 $2")
	s = spacedSuffix.ReplaceAllString(s, " $1")
	s = whitespace.ReplaceAllString(s, " ")

	// "00:06 AM" is not a valid 12-hour time; read it as 12:06 AM.
	if midnight12h.MatchString(s) {
		if loc := leadingZeroHrs.FindStringIndex(s); loc != nil {
			s = s[:loc[0]] + "12:" + s[loc[1]:]
		}
	}
	if zeroHour12h.MatchString(s) {
		return "", false
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.TimeOnly), true
		}
	}
	return "", false
}

// normalizePage drops leading zeros from numeric page labels.
func normalizePage(page string) string {
	if n, err := strconv.Atoi(page); err == nil {
		return strconv.Itoa(n)
	}
	return page
}

func formatPage(page string) string {
	if n, err := strconv.Atoi(page); err == nil {
		return fmt.Sprintf("page%03d", n)
	}
	return "page" + page
}

// sortedPages orders numeric pages by value, non-numeric ones first.
func sortedPages(pages Pages) []string {
	keys := make([]string, 0, len(pages))
	for k := range pages {
		keys = append(keys, k)
	}
	rank := func(k string) int {
		n, err := strconv.Atoi(k)
		if err != nil {
			return 0
		}
		return n
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// stringField returns fields[key] as text: nil for a missing or null value,
// the JSON encoding for anything that is not a string.
func stringField(fields map[string]any, key string) *string {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
