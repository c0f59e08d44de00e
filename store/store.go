package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/cairn/idgen"
	"github.com/roach88/cairn/migrate"
)

// Store provides durable storage for run lineage.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db         *sqlx.DB
	logger     *zap.Logger
	now        func() time.Time
	ids        idgen.Generator
	migrations *migrate.Registry
	migrated   []int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for run, stage and artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the row id generator. The default is UUIDv7.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithMigrations replaces the migration registry applied on open. Tests use
// it to build a store at an intermediate version.
func WithMigrations(reg *migrate.Registry) Option {
	return func(s *Store) { s.migrations = reg }
}

// Open creates or opens a SQLite database at the given path and applies
// every pending migration.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - immediate transactions, so migrations and run numbering serialize
//     on the write lock
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//
// When a migration fails the database is closed and the returned error
// wraps a *migrate.MigrationError; no Store is returned.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: zap.NewNop(),
		now:    time.Now,
		ids:    idgen.UUIDv7{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.migrations == nil {
		s.migrations = Migrations(migrate.WithLogger(s.logger))
	}
	s.logger = s.logger.With(zap.String("component", "store"))

	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	applied, err := s.migrations.ApplyPending(context.Background(), db.DB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	if len(applied) > 0 {
		s.logger.Info("schema migrated",
			zap.String("path", path),
			zap.Int64s("versions", applied))
	}

	s.db = db
	s.migrated = applied
	return s, nil
}

// Migrated returns the versions Open applied, empty when the schema was
// already current.
func (s *Store) Migrated() []int64 {
	return slices.Clone(s.migrated)
}

// SchemaStatus describes a database's migration state.
type SchemaStatus struct {
	Current int64   `json:"current"`
	Latest  int64   `json:"latest"`
	Applied []int64 `json:"applied"`
	Pending []int64 `json:"pending"`
}

// Inspect reports the migration state of the database at path without
// migrating it. A missing file is not created and reports every migration
// as pending.
func Inspect(ctx context.Context, path string) (SchemaStatus, error) {
	reg := Migrations()
	st := SchemaStatus{Latest: reg.Latest(), Applied: []int64{}}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		for _, m := range reg.Migrations() {
			st.Pending = append(st.Pending, m.Version)
		}
		return st, nil
	}

	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if st.Current, err = migrate.CurrentVersion(ctx, db); err != nil {
		return SchemaStatus{}, err
	}
	if st.Applied, err = migrate.AppliedVersions(ctx, db); err != nil {
		return SchemaStatus{}, err
	}
	pending, err := reg.Pending(ctx, db)
	if err != nil {
		return SchemaStatus{}, err
	}
	st.Pending = make([]int64, len(pending))
	for i, m := range pending {
		st.Pending[i] = m.Version
	}
	return st, nil
}

func dsn(path string) string {
	return "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL"
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database handle.
// Prefer Store methods when available.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	return migrate.CurrentVersion(ctx, s.db)
}

// AppliedVersions returns every applied migration version in ascending order.
func (s *Store) AppliedVersions(ctx context.Context) ([]int64, error) {
	return migrate.AppliedVersions(ctx, s.db)
}

// PendingVersions returns registered migrations that are not yet applied.
// It is empty right after Open.
func (s *Store) PendingVersions(ctx context.Context) ([]int64, error) {
	pending, err := s.migrations.Pending(ctx, s.db)
	if err != nil {
		return nil, err
	}
	versions := make([]int64, len(pending))
	for i, m := range pending {
		versions[i] = m.Version
	}
	return versions, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
