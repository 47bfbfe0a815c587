// Package headers turns per-page OCR outputs of session headers into
// per-document JSON files and the unified record list served by the site.
package headers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"plenario/internal/fsutil"
)

var pageFile = regexp.MustCompile(`(?i)^([a-f0-9-]+)_page(\d+)_\.json$`)

// Pages maps the page number as written in the file name ("001") to the
// OCR output object of that page.
type Pages map[string]json.RawMessage

// Problem is an OCR output file that could not be grouped.
type Problem struct {
	File   string
	Reason string
}

// Grouping is the result of Group.
type Grouping struct {
	Documents map[string]Pages

	// Files counts every .json file seen.
	Files int
	// Ignored lists files whose name does not match <doc>_pageNNN_.json.
	Ignored []string
	// Problems lists matching files that were unreadable or had no object
	// under "output".
	Problems []Problem
}

// Pages returns the number of pages grouped.
func (g *Grouping) Pages() int {
	n := 0
	for _, p := range g.Documents {
		n += len(p)
	}
	return n
}

// Group reads the OCR outputs in dir and groups their "output" objects by
// document.
func Group(dir string) (*Grouping, error) {
	files, err := fsutil.List(dir, ".json")
	if err != nil {
		return nil, err
	}
	g := &Grouping{Documents: make(map[string]Pages), Files: len(files)}
	for _, path := range files {
		name := filepath.Base(path)
		m := pageFile.FindStringSubmatch(name)
		if m == nil {
			g.Ignored = append(g.Ignored, name)
			continue
		}
		output, err := readOutput(path)
		if err != nil {
			g.Problems = append(g.Problems, Problem{File: name, Reason: err.Error()})
			continue
		}
		doc, page := m[1], m[2]
		if g.Documents[doc] == nil {
			g.Documents[doc] = make(Pages)
		}
		g.Documents[doc][page] = output
	}
	return g, nil
}

var errNoOutputObject = errors.New(`no object under "output"`)

func readOutput(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !isObject(envelope.Output) {
		return nil, errNoOutputObject
	}
	return envelope.Output, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// WriteDocument writes pages as one JSON object, keys in page order.
func WriteDocument(path string, pages Pages) error {
	data, err := marshalIndent(pages)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// ReadDocument loads a file written by WriteDocument.
func ReadDocument(path string) (Pages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages Pages
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return pages, nil
}

// SortedDocuments returns the document IDs of g in lexical order.
func (g *Grouping) SortedDocuments() []string {
	ids := make([]string, 0, len(g.Documents))
	for id := range g.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// marshalIndent encodes v with two-space indentation, without HTML escaping
// and with a trailing newline. Map keys come out sorted.
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
