package cache

import (
	"fmt"
	"slices"
	"strconv"
)

// ColumnType is the type of every cell in a table column.
type ColumnType string

const (
	ColString ColumnType = "string"
	ColInt    ColumnType = "int"
	ColFloat  ColumnType = "float"
	ColBool   ColumnType = "bool"
)

// Column is one typed table column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is columnar data for the tabular cachers. Cells hold string, int64,
// float64 or bool according to their column; Append converts other integer
// and float widths.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// NewTable creates an empty table with the given columns.
func NewTable(cols ...Column) *Table {
	return &Table{Columns: cols}
}

// Append adds one row after converting and checking every cell.
func (t *Table) Append(vals ...any) error {
	row, err := normalizeRow(t.Columns, vals)
	if err != nil {
		return fmt.Errorf("row %d: %w", len(t.Rows), err)
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Validate checks the schema and every row.
func (t *Table) Validate() error {
	_, err := t.normalized()
	return err
}

// Info returns the schema and row count recorded in the sidecar.
func (t *Table) Info() *TableInfo {
	return &TableInfo{Columns: slices.Clone(t.Columns), Rows: len(t.Rows)}
}

func (t *Table) normalized() (*Table, error) {
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("table has no columns")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("table column with empty name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case ColString, ColInt, ColFloat, ColBool:
		default:
			return nil, fmt.Errorf("column %q: unknown type %q", c.Name, c.Type)
		}
	}

	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([][]any, len(t.Rows))}
	for i, row := range t.Rows {
		norm, err := normalizeRow(t.Columns, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out.Rows[i] = norm
	}
	return out, nil
}

// checkSchema reports whether cols matches the schema recorded at save time.
func checkSchema(want []Column, got []string) error {
	if len(want) != len(got) {
		return fmt.Errorf("expected %d columns, found %d", len(want), len(got))
	}
	for i, c := range want {
		if c.Name != got[i] {
			return fmt.Errorf("column %d: expected %q, found %q", i, c.Name, got[i])
		}
	}
	return nil
}

func normalizeRow(cols []Column, vals []any) ([]any, error) {
	if len(vals) != len(cols) {
		return nil, fmt.Errorf("expected %d cells, got %d", len(cols), len(vals))
	}
	row := make([]any, len(vals))
	for i, v := range vals {
		cell, err := normalizeCell(cols[i], v)
		if err != nil {
			return nil, err
		}
		row[i] = cell
	}
	return row, nil
}

func normalizeCell(col Column, v any) (any, error) {
	switch col.Type {
	case ColString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case ColInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case ColFloat:
		switch f := v.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		}
	case ColBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
	}
	return nil, fmt.Errorf("column %q (%s): cannot store %T", col.Name, col.Type, v)
}

func formatCell(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case int64:
		return strconv.FormatInt(c, 10)
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	}
	return fmt.Sprint(v)
}

func parseCell(col Column, s string) (any, error) {
	switch col.Type {
	case ColString:
		return s, nil
	case ColInt:
		return strconv.ParseInt(s, 10, 64)
	case ColFloat:
		return strconv.ParseFloat(s, 64)
	case ColBool:
		return strconv.ParseBool(s)
	}
	return nil, fmt.Errorf("unknown column type %q", col.Type)
}

func parseRow(cols []Column, cells []string) ([]any, error) {
	if len(cells) != len(cols) {
		return nil, fmt.Errorf("expected %d cells, found %d", len(cols), len(cells))
	}
	row := make([]any, len(cells))
	for i, s := range cells {
		v, err := parseCell(cols[i], s)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", cols[i].Name, err)
		}
		row[i] = v
	}
	return row, nil
}

// asTable accepts a Table or *Table and returns a validated copy.
func asTable(v any) (*Table, error) {
	switch t := v.(type) {
	case *Table:
		if t == nil {
			return nil, fmt.Errorf("nil table")
		}
		return t.normalized()
	case Table:
		return t.normalized()
	}
	return nil, fmt.Errorf("tabular cacher needs a cache.Table, got %T", v)
}
