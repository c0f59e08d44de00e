package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cairn/migrate"
)

// Schema versions. Later versions are date stamps.
const (
	VersionInitial       int64 = 1
	VersionRunException  int64 = 20260210
	VersionLookupIndexes int64 = 20260302
	VersionListItems     int64 = 20261012
)

// Migrations returns a registry holding every schema migration, in order.
// Each call returns a fresh registry.
func Migrations(opts ...migrate.Option) *migrate.Registry {
	reg := migrate.NewRegistry(opts...)
	reg.MustAdd(migrate.Migration{
		Version: VersionInitial,
		Name:    "initial schema",
		Up:      steps(VersionInitial, initialSchema...),
	})
	reg.MustAdd(migrate.Migration{
		Version: VersionRunException,
		Name:    "run exception columns",
		Up: steps(VersionRunException,
			`ALTER TABLE run ADD COLUMN exception TEXT`,
			`ALTER TABLE run ADD COLUMN exception_stack TEXT`,
		),
	})
	reg.MustAdd(migrate.Migration{
		Version: VersionLookupIndexes,
		Name:    "lookup indexes",
		Up: steps(VersionLookupIndexes,
			`CREATE UNIQUE INDEX idx_run_experiment_number ON run(experiment_name, run_number)`,
			`CREATE UNIQUE INDEX idx_run_reference ON run(reference)`,
			`CREATE INDEX idx_stage_hash ON stage(hash)`,
			`CREATE INDEX idx_artifact_hash_name ON artifact(hash, name)`,
		),
	})
	reg.MustAdd(migrate.Migration{
		Version: VersionListItems,
		Name:    "list artifact items",
		Up: steps(VersionListItems,
			`CREATE TABLE artifact_list_item (
				list_id TEXT NOT NULL REFERENCES artifact(id),
				item_id TEXT NOT NULL REFERENCES artifact(id),
				position INTEGER NOT NULL,
				PRIMARY KEY (list_id, position)
			)`,
			`CREATE INDEX idx_artifact_list_item_item ON artifact_list_item(item_id)`,
		),
	})
	return reg
}

// steps builds a migration body that runs stmts in order and then records
// version.
func steps(version int64, stmts ...string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return migrate.RecordVersion(ctx, tx, version)
	}
}

var initialSchema = []string{
	`CREATE TABLE meta (
		schema_version INTEGER NOT NULL
	)`,

	`CREATE TABLE run (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		experiment_name TEXT NOT NULL,
		run_number INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		"commit" TEXT NOT NULL DEFAULT '',
		param_files TEXT NOT NULL DEFAULT '[]',
		params TEXT NOT NULL DEFAULT '{}',
		workdir_dirty BOOLEAN NOT NULL DEFAULT 0,
		full_store BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		cli TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		"user" TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		end_time TIMESTAMP
	)`,

	`CREATE TABLE stage (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES run(id),
		func_name TEXT NOT NULL,
		func_module TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP,
		end_time TIMESTAMP,
		params TEXT NOT NULL DEFAULT '{}',
		hash TEXT NOT NULL,
		hash_details TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE artifact (
		id TEXT PRIMARY KEY,
		stage_id TEXT REFERENCES stage(id),
		name TEXT NOT NULL,
		hash TEXT NOT NULL,
		generated_time TIMESTAMP NOT NULL,
		artifact_type TEXT NOT NULL DEFAULT '',
		cacher_type TEXT NOT NULL DEFAULT '',
		cacher_module TEXT NOT NULL DEFAULT '',
		cacher_params TEXT NOT NULL DEFAULT '{}',
		reportable BOOLEAN NOT NULL DEFAULT 0,
		extra_metadata TEXT NOT NULL DEFAULT '{}',
		repr TEXT NOT NULL DEFAULT '',
		is_list BOOLEAN NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE run_stage (
		run_id TEXT NOT NULL REFERENCES run(id),
		stage_id TEXT NOT NULL REFERENCES stage(id),
		PRIMARY KEY (run_id, stage_id)
	)`,

	`CREATE TABLE stage_input (
		stage_id TEXT NOT NULL REFERENCES stage(id),
		artifact_id TEXT NOT NULL REFERENCES artifact(id),
		arg_index INTEGER NOT NULL,
		arg_name TEXT NOT NULL,
		stage_dependency_id TEXT REFERENCES stage(id),
		PRIMARY KEY (stage_id, arg_index, artifact_id)
	)`,

	`CREATE TABLE run_artifact (
		run_id TEXT NOT NULL REFERENCES run(id),
		artifact_id TEXT NOT NULL REFERENCES artifact(id),
		PRIMARY KEY (run_id, artifact_id)
	)`,
}
