package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func testMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "initial",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				if err := execAll(ctx, tx,
					`CREATE TABLE meta (schema_version INTEGER NOT NULL)`,
					`CREATE TABLE run (id TEXT PRIMARY KEY, name TEXT)`,
				); err != nil {
					return err
				}
				return RecordVersion(ctx, tx, 1)
			},
		},
		{
			Version: 20260210,
			Name:    "add run notes",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				if err := execAll(ctx, tx, `ALTER TABLE run ADD COLUMN notes TEXT`); err != nil {
					return err
				}
				return RecordVersion(ctx, tx, 20260210)
			},
		},
	}
}

func newTestRegistry(t *testing.T, ms ...Migration) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, m := range ms {
		require.NoError(t, r.Add(m))
	}
	return r
}

func TestAddOrdersAndRejectsDuplicates(t *testing.T) {
	ms := testMigrations()
	r := newTestRegistry(t, ms[1], ms[0])

	got := r.Migrations()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Version)
	assert.Equal(t, int64(20260210), got[1].Version)
	assert.Equal(t, int64(20260210), r.Latest())

	assert.Error(t, r.Add(ms[0]))
	assert.Error(t, r.Add(Migration{Version: 0, Up: ms[0].Up}))
	assert.Error(t, r.Add(Migration{Version: 5}))
	assert.Panics(t, func() { r.MustAdd(ms[1]) })

	r.Reset()
	assert.Empty(t, r.Migrations())
	assert.Equal(t, int64(0), r.Latest())
}

func TestApplyPendingOnEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "m.db"))
	r := newTestRegistry(t, testMigrations()...)

	v, err := CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	pending, err := r.Pending(ctx, db)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	applied, err := r.ApplyPending(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 20260210}, applied)

	v, err = CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(20260210), v)
}

func TestApplyPendingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "m.db"))
	r := newTestRegistry(t, testMigrations()...)

	_, err := r.ApplyPending(ctx, db)
	require.NoError(t, err)

	applied, err := r.ApplyPending(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, applied)

	versions, err := AppliedVersions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 20260210}, versions)
}

func TestApplyPendingIncremental(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "m.db"))
	ms := testMigrations()

	applied, err := newTestRegistry(t, ms[0]).ApplyPending(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, applied)

	applied, err = newTestRegistry(t, ms...).ApplyPending(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{20260210}, applied)

	_, err = db.ExecContext(ctx, `INSERT INTO run (id, name, notes) VALUES ('r1', 'x', 'hello')`)
	require.NoError(t, err)
}

func TestFailedMigrationStopsAtLastGoodVersion(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "m.db"))
	ms := testMigrations()

	broken := Migration{
		Version: 20260301,
		Name:    "broken",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := execAll(ctx, tx, `CREATE TABLE half (id TEXT)`); err != nil {
				return err
			}
			return errors.New("boom")
		},
	}
	after := Migration{
		Version: 20260401,
		Name:    "never reached",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return RecordVersion(ctx, tx, 20260401)
		},
	}
	r := newTestRegistry(t, ms[0], ms[1], broken, after)

	applied, err := r.ApplyPending(ctx, db)
	require.Error(t, err)
	assert.Equal(t, []int64{1, 20260210}, applied)

	var me *MigrationError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, int64(20260301), me.Version)
	assert.Equal(t, "broken", me.Name)
	assert.True(t, IsMigrationError(err))
	assert.Contains(t, err.Error(), "boom")

	v, err := CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(20260210), v)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'`).Scan(&n))
	assert.Equal(t, 0, n, "schema change rolled back with the failed migration")
}

func TestMigrationMustRecordItsVersion(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "m.db"))
	ms := testMigrations()

	forgetful := Migration{
		Version: 20260301,
		Name:    "forgetful",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `CREATE TABLE extra (id TEXT)`)
		},
	}
	r := newTestRegistry(t, ms[0], forgetful)

	_, err := r.ApplyPending(ctx, db)
	require.Error(t, err)
	assert.True(t, IsMigrationError(err))
	assert.Contains(t, err.Error(), "did not record its version")

	v, err := CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestAppliedVersionsWithoutMeta(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "m.db"))

	versions, err := AppliedVersions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{}, versions)
}

func TestConcurrentOpenersApplyOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.db")

	// Create the file and switch it to WAL before the race starts.
	require.NoError(t, openTestDB(t, path).PingContext(ctx))

	const openers = 4
	var wg sync.WaitGroup
	results := make([][]int64, openers)
	errs := make([]error, openers)
	for i := 0; i < openers; i++ {
		db := openTestDB(t, path)
		r := newTestRegistry(t, testMigrations()...)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.ApplyPending(ctx, db)
		}(i)
	}
	wg.Wait()

	counts := map[int64]int{}
	for i := 0; i < openers; i++ {
		require.NoError(t, errs[i], fmt.Sprintf("opener %d", i))
		for _, v := range results[i] {
			counts[v]++
		}
	}
	assert.Equal(t, map[int64]int{1: 1, 20260210: 1}, counts)

	versions, err := AppliedVersions(ctx, openTestDB(t, path))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 20260210}, versions)
}
