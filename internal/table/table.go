// Package table holds the flat tables the cache is made of.
//
// A Table grows its column set as rows arrive: a row carrying an attribute
// not seen before adds a column at the end, and rows that lack an attribute
// leave that cell empty. Column order is therefore first-seen order, which
// keeps output deterministic for a given document.
package table

import (
	"encoding/csv"
	"io"
)

// Field is one named cell of a row.
type Field struct {
	Name  string
	Value string
}

// Table is an in-memory table with a header and string cells.
type Table struct {
	Name    string
	columns []string
	index   map[string]int
	rows    [][]string
}

// New creates an empty table with an optional fixed leading column set.
func New(name string, columns ...string) *Table {
	t := &Table{Name: name, index: make(map[string]int)}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

func (t *Table) addColumn(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.columns = append(t.columns, name)
	t.index[name] = len(t.columns) - 1
	return len(t.columns) - 1
}

// Append adds a row. Fields with unknown names create new columns.
// A repeated name within one row keeps the last value.
func (t *Table) Append(fields []Field) {
	row := make([]string, len(t.columns), len(t.columns)+len(fields))
	for _, f := range fields {
		i := t.addColumn(f.Name)
		for len(row) <= i {
			row = append(row, "")
		}
		row[i] = f.Value
	}
	t.rows = append(t.rows, row)
}

// Extend appends every row of other, matching columns by name.
func (t *Table) Extend(other *Table) {
	if other == nil {
		return
	}
	for r := range other.rows {
		t.Append(other.Row(r))
	}
}

// Columns returns the header in column order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the fields of row r in column order. Columns added after the
// row was appended are not included.
func (t *Table) Row(r int) []Field {
	row := t.rows[r]
	fields := make([]Field, len(row))
	for i, v := range row {
		fields[i] = Field{Name: t.columns[i], Value: v}
	}
	return fields
}

// Value returns the cell of row r in column name.
func (t *Table) Value(r int, name string) (string, bool) {
	i, ok := t.index[name]
	if !ok || r < 0 || r >= len(t.rows) {
		return "", false
	}
	row := t.rows[r]
	if i >= len(row) {
		return "", true
	}
	return row[i], true
}

// Column returns every value of column name, one per row.
func (t *Table) Column(name string) []string {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(t.rows))
	for r, row := range t.rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out
}

// WriteCSV encodes the table as CSV with a header row. A table without
// columns produces no output.
func (t *Table) WriteCSV(w io.Writer) error {
	if len(t.columns) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return err
	}

	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		n := copy(record, row)
		for i := n; i < len(record); i++ {
			record[i] = ""
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV decodes a table written by WriteCSV. The first record is the
// header; an empty input yields a table without columns.
func ReadCSV(r io.Reader, name string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return New(name), nil
	}
	if err != nil {
		return nil, err
	}

	t := New(name, header...)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]string, len(t.columns))
		copy(row, record)
		t.rows = append(t.rows, row)
	}
	return t, nil
}
