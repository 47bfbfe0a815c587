package manifest

import (
	"strings"

	"plenario/internal/fsutil"
)

// Document is one session document listed on the index page.
type Document struct {
	PeriodoParlamentario string `csv:"periodo_parlamentario" json:"periodo_parlamentario,omitempty"`
	PeriodoAnual         string `csv:"periodo_anual" json:"periodo_anual,omitempty"`
	Legislatura          string `csv:"legislatura" json:"legislatura,omitempty"`
	Descripcion          string `csv:"descripcion" json:"descripcion,omitempty"`
	CleanLink            string `csv:"clean_link" json:"clean_link" validate:"required,url"`
	FileName             string `csv:"file_name" json:"file_name" validate:"required,endswith=.pdf"`
}

func (d Document) Key() string { return d.FileName }

// ID is the file name without the .pdf extension. It names every derived
// artifact (page images, OCR outputs, per-document JSON).
func (d Document) ID() string { return strings.TrimSuffix(d.FileName, ".pdf") }

// MergeHistory prepends newly scraped documents to the history, keeping the
// first occurrence of each file name. It returns the merged list and the
// documents that were not in the history before.
func MergeHistory(history, scraped []Document) (merged, added []Document) {
	known := make(map[string]struct{}, len(history))
	for _, d := range history {
		known[d.FileName] = struct{}{}
	}
	for _, d := range scraped {
		if _, ok := known[d.FileName]; ok {
			continue
		}
		known[d.FileName] = struct{}{}
		added = append(added, d)
	}

	seen := make(map[string]struct{}, len(added)+len(history))
	merged = make([]Document, 0, len(added)+len(history))
	for _, d := range append(append([]Document(nil), added...), history...) {
		if _, dup := seen[d.FileName]; dup {
			continue
		}
		seen[d.FileName] = struct{}{}
		merged = append(merged, d)
	}
	return merged, added
}

// PendingDownloads returns the history minus documents whose ID is in
// processed or excluded, preserving history order.
func PendingDownloads(history []Document, processed, excluded map[string]struct{}) []Document {
	var out []Document
	for _, d := range history {
		id := d.ID()
		if _, ok := processed[id]; ok {
			continue
		}
		if _, ok := excluded[id]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ReadHistory loads the history CSV. A missing file is an empty history.
func ReadHistory(path string) ([]Document, error) {
	if !fsutil.Exists(path) {
		return nil, nil
	}
	return Read[Document](path)
}

type exclusion struct {
	FileName string `csv:"file_name"`
	Nombre   string `csv:"nombre"`
}

// ReadExclusions loads the IDs listed in the exclusion CSV, taken from the
// file_name column or, when that is empty, the nombre column. A missing file
// excludes nothing.
func ReadExclusions(path string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if !fsutil.Exists(path) {
		return out, nil
	}
	rows, err := Read[exclusion](path)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		name := r.FileName
		if name == "" {
			name = r.Nombre
		}
		if name != "" {
			out[strings.TrimSuffix(name, ".pdf")] = struct{}{}
		}
	}
	return out, nil
}
