package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DBTableCacher stores a Table as a SQLite table instead of a file. The
// whole table is written in one transaction; the sidecar still lives under
// the cache root and is the commit marker.
type DBTableCacher struct {
	db    *sqlx.DB
	table string
}

// OpenTableDB opens (creating if needed) a SQLite database for table
// artifacts.
func OpenTableDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open table db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open table db: %w", err)
	}
	return db, nil
}

// NewDBTableCacher writes into db. table is a name template where {name}
// and {hash} are substituted; empty derives a name from both. A template
// without {hash} gets the short hash appended, so distinct hashes never
// share a table.
func NewDBTableCacher(db *sqlx.DB, table string) *DBTableCacher {
	return &DBTableCacher{db: db, table: table}
}

func (c *DBTableCacher) Type() string      { return "db_table" }
func (c *DBTableCacher) Extension() string { return "" }

func (c *DBTableCacher) Params() map[string]any {
	return map[string]any{"table": c.table}
}

// TableName resolves the table used for t.
func (c *DBTableCacher) TableName(t Target) string {
	if c.table == "" {
		return sanitizeIdent(fmt.Sprintf("a_%s_%s", t.Hash.Short(), t.Name))
	}
	name := strings.NewReplacer("{name}", t.Name, "{hash}", t.Hash.Short()).Replace(c.table)
	if !strings.Contains(c.table, "{hash}") {
		name += "_" + t.Hash.Short()
	}
	return sanitizeIdent(name)
}

func (c *DBTableCacher) Save(ctx context.Context, t Target, v any) (Record, error) {
	tbl, err := asTable(v)
	if err != nil {
		return Record{}, err
	}
	name := c.TableName(t)

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("save table %s: %w", name, err)
	}
	defer tx.Rollback()

	// A table without a committed sidecar is left over from an interrupted
	// save.
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return Record{}, fmt.Errorf("save table %s: %w", name, err)
	}

	cols := make([]string, len(tbl.Columns))
	marks := make([]string, len(tbl.Columns))
	for i, col := range tbl.Columns {
		cols[i] = quoteIdent(col.Name) + " " + sqlType(col.Type) + " NOT NULL"
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return Record{}, fmt.Errorf("save table %s: %w", name, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(marks, ", "))
	stmt, err := tx.PreparexContext(ctx, insert)
	if err != nil {
		return Record{}, fmt.Errorf("save table %s: %w", name, err)
	}
	defer stmt.Close()

	for i, row := range tbl.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return Record{}, fmt.Errorf("save table %s: row %d: %w", name, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("save table %s: %w", name, err)
	}

	return Record{
		Table: tbl.Info(),
		Extra: map[string]any{"table": name},
	}, nil
}

func (c *DBTableCacher) Load(ctx context.Context, t Target, meta *Metadata, into any) error {
	dst, ok := into.(*Table)
	if !ok {
		return fmt.Errorf("db table cacher loads into *cache.Table, got %T", into)
	}
	if meta == nil || meta.Table == nil {
		return corrupt(t.Name, t.Path, "sidecar has no table schema", nil)
	}
	info := meta.Table
	name := c.TableName(t)

	rows, err := c.db.QueryxContext(ctx, `SELECT * FROM `+quoteIdent(name)+` ORDER BY rowid`)
	if err != nil {
		return corrupt(t.Name, t.Path, "cannot read table "+name, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return err
	}
	if err := checkSchema(info.Columns, names); err != nil {
		return corrupt(t.Name, t.Path, "table does not match stored schema", err)
	}

	tbl := &Table{Columns: info.Columns, Rows: make([][]any, 0, info.Rows)}
	for rows.Next() {
		cells, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("scan table %s: %w", name, err)
		}
		row := make([]any, len(cells))
		for i, cell := range cells {
			v, err := fromSQL(info.Columns[i], cell)
			if err != nil {
				return corrupt(t.Name, t.Path, "table does not match stored schema", err)
			}
			row[i] = v
		}
		tbl.Rows = append(tbl.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan table %s: %w", name, err)
	}
	if len(tbl.Rows) != info.Rows {
		return corrupt(t.Name, t.Path, fmt.Sprintf("expected %d rows, found %d", info.Rows, len(tbl.Rows)), nil)
	}

	*dst = *tbl
	return nil
}

func (c *DBTableCacher) Exists(ctx context.Context, t Target) (bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, c.TableName(t))
	if err != nil {
		return false, fmt.Errorf("check table: %w", err)
	}
	return n > 0, nil
}

func (c *DBTableCacher) Remove(ctx context.Context, t Target) error {
	_, err := c.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(c.TableName(t)))
	return err
}

func sqlType(t ColumnType) string {
	switch t {
	case ColInt:
		return "INTEGER"
	case ColFloat:
		return "REAL"
	case ColBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

// fromSQL converts a driver value back to the column's Go type.
func fromSQL(col Column, v any) (any, error) {
	switch col.Type {
	case ColString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case ColInt:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case ColFloat:
		switch f := v.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		}
	case ColBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
	}
	return nil, fmt.Errorf("column %q (%s): unexpected %T", col.Name, col.Type, v)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
