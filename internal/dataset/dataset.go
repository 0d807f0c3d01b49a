// Package dataset holds the tabular input of a replace run and the rules for
// turning it into store records.
package dataset

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/spf13/cast"
)

// MissingValue replaces absent cells before text coercion
const MissingValue = 0

// Row maps column name to value. A nil value is a missing cell.
type Row map[string]any

// Record is a row after normalization: every column present, every value text.
type Record map[string]string

// Dataset is an ordered collection of rows sharing a column set
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New builds a dataset. Keys found in rows but not in columns are appended to
// the column list in sorted order so every cell is accounted for.
func New(columns []string, rows ...Row) *Dataset {
	d := &Dataset{
		Columns: append([]string(nil), columns...),
		Rows:    rows,
	}

	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		seen[c] = true
	}
	var extra []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	d.Columns = append(d.Columns, extra...)

	return d
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether name is one of the dataset's columns
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Normalize returns a copy where every missing cell holds MissingValue and
// every cell is coerced to its text form.
func (d *Dataset) Normalize() *Dataset {
	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, row := range d.Rows {
		norm := make(Row, len(d.Columns))
		for _, col := range d.Columns {
			v, ok := row[col]
			if !ok || isMissing(v) {
				v = MissingValue
			}
			norm[col] = Stringify(v)
		}
		out.Rows[i] = norm
	}
	return out
}

// Records normalizes the dataset and returns one record per row, in row order
func (d *Dataset) Records() []Record {
	norm := d.Normalize()
	records := make([]Record, len(norm.Rows))
	for i, row := range norm.Rows {
		rec := make(Record, len(row))
		for k, v := range row {
			rec[k] = v.(string)
		}
		records[i] = rec
	}
	return records
}

// Stringify returns the text representation of a cell value. Missing values,
// including nil pointers, render as the zero sentinel.
func Stringify(v any) string {
	if v == nil {
		return Stringify(MissingValue)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Stringify(MissingValue)
		}
		return Stringify(rv.Elem().Interface())
	}
	if isMissing(v) {
		return Stringify(MissingValue)
	}

	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}

	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

func isMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(val)
	case float32:
		return math.IsNaN(float64(val))
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return true
		}
		return isMissing(rv.Elem().Interface())
	}
	return false
}
