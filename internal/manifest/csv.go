// Package manifest reads and writes the CSV manifests exchanged between
// pipeline stages as typed, validated records.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"plenario/internal/fsutil"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRecord is returned when a row is missing a required field or a
// field fails validation. Loading stops at the first bad row.
var ErrInvalidRecord = errors.New("invalid manifest record")

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("csv"); name != "-" {
			return name
		}
		return ""
	})
	return v
}()

type column struct {
	name     string
	index    int
	required bool
}

// columnsOf returns the csv-tagged string fields of T in declaration order.
func columnsOf(t reflect.Type) ([]column, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("manifest record must be a struct, got %s", t)
	}
	var cols []column
	for i := range t.NumField() {
		f := t.Field(i)
		name := f.Tag.Get("csv")
		if name == "" || name == "-" {
			continue
		}
		if f.Type.Kind() != reflect.String {
			return nil, fmt.Errorf("manifest field %s must be a string", f.Name)
		}
		cols = append(cols, column{
			name:     name,
			index:    i,
			required: strings.Contains(f.Tag.Get("validate"), "required"),
		})
	}
	return cols, nil
}

// Read decodes a CSV file with a header row into records of type T.
//
// Columns are matched by the `csv` struct tag; unknown columns are ignored.
// A missing column is only an error when the field is required. Every row is
// validated with its `validate` tags.
func Read[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := Decode[T](f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func Decode[T any](r io.Reader) ([]T, error) {
	var zero T
	cols, err := columnsOf(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", ErrInvalidRecord)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range cols {
		if _, ok := pos[c.name]; !ok && c.required {
			return nil, fmt.Errorf("%w: required column %q not found", ErrInvalidRecord, c.name)
		}
	}

	var out []T
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if isBlank(row) {
			continue
		}

		var rec T
		rv := reflect.ValueOf(&rec).Elem()
		for _, c := range cols {
			i, ok := pos[c.name]
			if !ok || i >= len(row) {
				continue
			}
			rv.Field(c.index).SetString(strings.TrimSpace(row[i]))
		}
		if err := validate.Struct(rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", ErrInvalidRecord, line, describe(err))
		}
		out = append(out, rec)
	}
	return out, nil
}

// Write encodes records as CSV with a header row, replacing path atomically.
func Write[T any](path string, records []T) error {
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return Encode(w, records)
	})
}

func Encode[T any](w io.Writer, records []T) error {
	var zero T
	cols, err := columnsOf(reflect.TypeOf(zero))
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for _, rec := range records {
		rv := reflect.ValueOf(rec)
		for i, c := range cols {
			row[i] = rv.Field(c.index).String()
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
