package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// MetaTable holds one row per applied version.
const MetaTable = "meta"

// Migration is one schema change.
type Migration struct {
	Version int64
	Name    string

	// Up mutates the schema and must finish with RecordVersion.
	Up func(ctx context.Context, tx *sql.Tx) error
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Registry is an ordered set of migrations.
type Registry struct {
	mu         sync.RWMutex
	migrations []Migration
	logger     *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "migrate"))
	return r
}

// Add registers m. Versions must be positive and unique.
func (r *Registry) Add(m Migration) error {
	if m.Version <= 0 {
		return fmt.Errorf("add migration %q: version must be positive, got %d", m.Name, m.Version)
	}
	if m.Up == nil {
		return fmt.Errorf("add migration %d: no Up function", m.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, found := slices.BinarySearchFunc(r.migrations, m.Version, func(x Migration, v int64) int {
		switch {
		case x.Version < v:
			return -1
		case x.Version > v:
			return 1
		}
		return 0
	})
	if found {
		return fmt.Errorf("add migration %d (%s): version already registered as %q", m.Version, m.Name, r.migrations[i].Name)
	}
	r.migrations = slices.Insert(r.migrations, i, m)
	return nil
}

// MustAdd is Add for static registration; it panics on error.
func (r *Registry) MustAdd(m Migration) {
	if err := r.Add(m); err != nil {
		panic(err)
	}
}

// Migrations returns the registered migrations in ascending version order.
func (r *Registry) Migrations() []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.migrations)
}

// Latest returns the highest registered version, or 0.
func (r *Registry) Latest() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Reset removes every migration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations = nil
}

// Pending returns the migrations above the database's current version.
func (r *Registry) Pending(ctx context.Context, q Queryer) ([]Migration, error) {
	cur, err := CurrentVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, m := range r.Migrations() {
		if m.Version > cur {
			out = append(out, m)
		}
	}
	return out, nil
}

// ApplyPending applies, in order, every migration above the current
// version, and returns the versions it applied. On failure it returns a
// *MigrationError together with the versions applied before the failure.
func (r *Registry) ApplyPending(ctx context.Context, db *sql.DB) ([]int64, error) {
	applied := []int64{}
	for _, m := range r.Migrations() {
		ok, err := r.apply(ctx, db, m)
		if err != nil {
			r.logger.Error("migration failed",
				zap.Int64("version", m.Version),
				zap.String("name", m.Name),
				zap.Error(err))
			return applied, err
		}
		if ok {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

// apply runs m in its own transaction unless the database is already at or
// above its version.
func (r *Registry) apply(ctx context.Context, db *sql.DB, m Migration) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, &MigrationError{Version: m.Version, Name: m.Name, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	cur, err := CurrentVersion(ctx, tx)
	if err != nil {
		return false, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
	}
	if m.Version <= cur {
		return false, nil
	}

	if err := m.Up(ctx, tx); err != nil {
		return false, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
	}

	after, err := CurrentVersion(ctx, tx)
	if err != nil {
		return false, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
	}
	if after != m.Version {
		return false, &MigrationError{
			Version: m.Version,
			Name:    m.Name,
			Err:     fmt.Errorf("migration did not record its version (meta is at %d)", after),
		}
	}

	if err := tx.Commit(); err != nil {
		return false, &MigrationError{Version: m.Version, Name: m.Name, Err: fmt.Errorf("commit: %w", err)}
	}

	r.logger.Info("applied migration",
		zap.Int64("version", m.Version),
		zap.String("name", m.Name))
	return true, nil
}

// RecordVersion appends v to the meta table. Call it as the last statement
// of a migration's Up.
func RecordVersion(ctx context.Context, tx *sql.Tx, v int64) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+MetaTable+` (schema_version) VALUES (?)`, v); err != nil {
		return fmt.Errorf("record version %d: %w", v, err)
	}
	return nil
}

// CurrentVersion returns the highest recorded version, or 0 when the meta
// table does not exist.
func CurrentVersion(ctx context.Context, q Queryer) (int64, error) {
	exists, err := metaExists(ctx, q)
	if err != nil || !exists {
		return 0, err
	}

	var v sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(schema_version) FROM `+MetaTable).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v.Int64, nil
}

// AppliedVersions returns every recorded version in ascending order.
func AppliedVersions(ctx context.Context, q Queryer) ([]int64, error) {
	exists, err := metaExists(ctx, q)
	if err != nil {
		return nil, err
	}
	versions := []int64{}
	if !exists {
		return versions, nil
	}

	rows, err := q.QueryContext(ctx, `SELECT schema_version FROM `+MetaTable+` ORDER BY schema_version`)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func metaExists(ctx context.Context, q Queryer) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, MetaTable).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up %s table: %w", MetaTable, err)
	}
	return true, nil
}
