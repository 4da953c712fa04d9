package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Dataset is an in-memory table stored column by column. A nil cell is a missing value.
type Dataset struct {
	columns []string
	index   map[string]int
	data    [][]any
	rows    int
}

// New builds a dataset from a header and row-major values.
func New(columns []string, rows [][]any) (*Dataset, error) {
	ds := &Dataset{
		columns: make([]string, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}

	for _, name := range columns {
		if _, exists := ds.index[name]; exists {
			return nil, fmt.Errorf("duplicate column: %s", name)
		}
		ds.index[name] = len(ds.columns)
		ds.columns = append(ds.columns, name)
	}

	ds.data = make([][]any, len(columns))
	for c := range ds.data {
		ds.data[c] = make([]any, len(rows))
	}

	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", r, len(row), len(columns))
		}
		for c, cell := range row {
			ds.data[c][r] = cell
		}
	}
	ds.rows = len(rows)

	return ds, nil
}

// FromRecords builds a dataset from keyed records. Columns keep first-seen order
// and keys absent from a record become missing cells.
func FromRecords(records []map[string]any) *Dataset {
	var columns []string
	seen := make(map[string]bool)
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		// map iteration is random; keep new keys of one record stable
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			columns = append(columns, k)
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for c, name := range columns {
			row[c] = rec[name]
		}
		rows[i] = row
	}

	ds, _ := New(columns, rows)
	return ds
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return d.rows }

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// Has reports whether the dataset contains the column.
func (d *Dataset) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns the cells of a column. The slice must not be modified.
func (d *Dataset) Column(name string) ([]any, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.data[i], true
}

// Value returns a single cell, nil when the column is unknown.
func (d *Dataset) Value(column string, row int) any {
	i, ok := d.index[column]
	if !ok || row < 0 || row >= d.rows {
		return nil
	}
	return d.data[i][row]
}

// Row returns a row as a map keyed by column name.
func (d *Dataset) Row(row int) map[string]any {
	out := make(map[string]any, len(d.columns))
	for i, name := range d.columns {
		out[name] = d.data[i][row]
	}
	return out
}

// Hash returns a SHA-256 digest of the dataset contents.
func (d *Dataset) Hash() string {
	h := sha256.New()
	for i, name := range d.columns {
		fmt.Fprintf(h, "%s\x1f", name)
		for _, cell := range d.data[i] {
			fmt.Fprintf(h, "%v\x1e", cell)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
