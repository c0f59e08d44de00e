package cache

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"maps"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// tableFormat converts a validated Table to and from file bytes.
type tableFormat interface {
	encode(t *Table) ([]byte, error)
	decode(data []byte, info *TableInfo) (*Table, error)
}

// TableCacher stores a Table as a file. The column schema and row count go
// into the sidecar and are checked on load.
type TableCacher struct {
	kind   string
	ext    string
	format tableFormat
	params map[string]any
}

// NewCSVCacher stores tables as CSV with a header row.
func NewCSVCacher() *TableCacher {
	return &TableCacher{kind: "csv", ext: ".csv", format: csvFormat{}, params: map[string]any{}}
}

// NewXLSXCacher stores tables as a single worksheet of an Excel workbook.
// An empty sheet name uses "Sheet1".
func NewXLSXCacher(sheet string) *TableCacher {
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &TableCacher{
		kind:   "xlsx",
		ext:    ".xlsx",
		format: xlsxFormat{sheet: sheet},
		params: map[string]any{"sheet": sheet},
	}
}

func (c *TableCacher) Type() string      { return c.kind }
func (c *TableCacher) Extension() string { return c.ext }

func (c *TableCacher) Params() map[string]any { return maps.Clone(c.params) }

func (c *TableCacher) Save(_ context.Context, t Target, v any) (Record, error) {
	tbl, err := asTable(v)
	if err != nil {
		return Record{}, err
	}
	data, err := c.format.encode(tbl)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", c.kind, err)
	}
	if err := writeFileAtomic(t.Path, data, 0o644); err != nil {
		return Record{}, fmt.Errorf("write %s: %w", t.Path, err)
	}
	return Record{Paths: []string{t.Path}, Table: tbl.Info()}, nil
}

func (c *TableCacher) Load(_ context.Context, t Target, meta *Metadata, into any) error {
	dst, ok := into.(*Table)
	if !ok {
		return fmt.Errorf("tabular cacher loads into *cache.Table, got %T", into)
	}
	if meta == nil || meta.Table == nil {
		return corrupt(t.Name, t.Path, "sidecar has no table schema", nil)
	}

	data, err := os.ReadFile(t.Path)
	if err != nil {
		return err
	}
	tbl, err := c.format.decode(data, meta.Table)
	if err != nil {
		return corrupt(t.Name, t.Path, "table does not match stored schema", err)
	}
	if len(tbl.Rows) != meta.Table.Rows {
		return corrupt(t.Name, t.Path, fmt.Sprintf("expected %d rows, found %d", meta.Table.Rows, len(tbl.Rows)), nil)
	}
	*dst = *tbl
	return nil
}

func (c *TableCacher) Exists(_ context.Context, t Target) (bool, error) {
	return fileExists(t.Path)
}

func (c *TableCacher) Remove(_ context.Context, t Target) error {
	return removeIfExists(t.Path)
}

type csvFormat struct{}

func (csvFormat) encode(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	record := make([]string, len(t.Columns))
	for r, row := range t.Rows {
		for i, v := range row {
			record[i] = formatCell(v)
			// The reader folds \r\n to \n even inside quotes.
			if strings.Contains(record[i], "\r\n") {
				return nil, fmt.Errorf("row %d column %q: csv cannot store \\r\\n in a cell", r, t.Columns[i].Name)
			}
		}
		// A lone empty field would be written as a blank line, which the
		// reader skips.
		if len(record) == 1 && record[0] == "" {
			w.Flush()
			buf.WriteString("\"\"\n")
			continue
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (csvFormat) decode(data []byte, info *TableInfo) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(info.Columns)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header row")
	}
	if err := checkSchema(info.Columns, records[0]); err != nil {
		return nil, err
	}

	t := &Table{Columns: info.Columns, Rows: make([][]any, 0, len(records)-1)}
	for i, rec := range records[1:] {
		row, err := parseRow(info.Columns, rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// xlsxFormat writes every cell as a string so values round-trip exactly.
type xlsxFormat struct {
	sheet string
}

func (x xlsxFormat) encode(t *Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if x.sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", x.sheet); err != nil {
			return nil, err
		}
	}

	for i, c := range t.Columns {
		if err := x.setCell(f, i, 0, c.Name); err != nil {
			return nil, err
		}
	}
	for r, row := range t.Rows {
		for i, v := range row {
			if err := x.setCell(f, i, r+1, formatCell(v)); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// setCell refuses values excelize would truncate.
func (x xlsxFormat) setCell(f *excelize.File, col, row int, s string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return err
	}
	if n := utf8.RuneCountInString(s); n > excelize.TotalCellChars {
		return fmt.Errorf("cell %s: %d characters exceeds the xlsx limit of %d", cell, n, excelize.TotalCellChars)
	}
	return f.SetCellStr(x.sheet, cell, s)
}

func (x xlsxFormat) decode(data []byte, info *TableInfo) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(x.sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}
	if err := checkSchema(info.Columns, rows[0]); err != nil {
		return nil, err
	}

	// GetRows drops trailing empty cells and rows.
	for len(rows)-1 < info.Rows {
		rows = append(rows, nil)
	}

	t := &Table{Columns: info.Columns, Rows: make([][]any, 0, len(rows)-1)}
	for i, cells := range rows[1:] {
		for len(cells) < len(info.Columns) {
			cells = append(cells, "")
		}
		row, err := parseRow(info.Columns, cells)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
