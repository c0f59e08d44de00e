package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	selectRun = `SELECT id, reference, experiment_name, run_number, timestamp, "commit", param_files, params,
		workdir_dirty, full_store, status, cli, hostname, "user", notes, end_time, exception, exception_stack
		FROM run`

	selectStage = `SELECT id, run_id, func_name, func_module, start_time, end_time, params, hash, hash_details
		FROM stage`

	selectArtifact = `SELECT id, stage_id, name, hash, generated_time, artifact_type, cacher_type, cacher_module,
		cacher_params, reportable, extra_metadata, repr, is_list
		FROM artifact`

	selectStageInput = `SELECT stage_id, artifact_id, arg_index, arg_name, stage_dependency_id
		FROM stage_input`
)

// maxLineageDepth bounds upstream traversal.
const maxLineageDepth = 64

// ReadRun retrieves a run by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := s.get(ctx, &run, selectRun+` WHERE id = ?`, id); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ReadRunByReference retrieves a run by its reference string.
func (s *Store) ReadRunByReference(ctx context.Context, ref string) (Run, error) {
	var run Run
	if err := s.get(ctx, &run, selectRun+` WHERE reference = ?`, ref); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", ref, err)
	}
	return run, nil
}

// ListRuns returns runs ordered by experiment name then run number. An empty
// experiment lists every run.
//
// Returns an empty slice (not nil) when there are no runs.
func (s *Store) ListRuns(ctx context.Context, experiment string) ([]Run, error) {
	query := selectRun
	var args []any
	if experiment != "" {
		query += ` WHERE experiment_name = ?`
		args = append(args, experiment)
	}
	query += ` ORDER BY experiment_name ASC, run_number ASC`

	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadStage retrieves a stage by id.
func (s *Store) ReadStage(ctx context.Context, id string) (Stage, error) {
	var stage Stage
	if err := s.get(ctx, &stage, selectStage+` WHERE id = ?`, id); err != nil {
		return Stage{}, fmt.Errorf("read stage %s: %w", id, err)
	}
	return stage, nil
}

// StagesForRun returns the stages linked to a run, in link order. Reused
// stages are included.
func (s *Store) StagesForRun(ctx context.Context, runID string) ([]Stage, error) {
	stages := []Stage{}
	err := s.db.SelectContext(ctx, &stages, `
		SELECT s.id, s.run_id, s.func_name, s.func_module, s.start_time, s.end_time, s.params, s.hash, s.hash_details
		FROM stage s
		JOIN run_stage rs ON rs.stage_id = s.id
		WHERE rs.run_id = ?
		ORDER BY rs.rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("stages for run %s: %w", runID, err)
	}
	return stages, nil
}

// ArtifactsForRun returns the artifacts visible from a run, in link order.
func (s *Store) ArtifactsForRun(ctx context.Context, runID string) ([]ArtifactRecord, error) {
	artifacts := []ArtifactRecord{}
	err := s.db.SelectContext(ctx, &artifacts, `
		SELECT a.id, a.stage_id, a.name, a.hash, a.generated_time, a.artifact_type, a.cacher_type,
			a.cacher_module, a.cacher_params, a.reportable, a.extra_metadata, a.repr, a.is_list
		FROM artifact a
		JOIN run_artifact ra ON ra.artifact_id = a.id
		WHERE ra.run_id = ?
		ORDER BY ra.rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("artifacts for run %s: %w", runID, err)
	}
	return artifacts, nil
}

// ReadArtifact retrieves an artifact by id.
func (s *Store) ReadArtifact(ctx context.Context, id string) (ArtifactRecord, error) {
	var rec ArtifactRecord
	if err := s.get(ctx, &rec, selectArtifact+` WHERE id = ?`, id); err != nil {
		return ArtifactRecord{}, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return rec, nil
}

// FindArtifact retrieves the artifact recorded for (hash, name).
func (s *Store) FindArtifact(ctx context.Context, hash, name string) (ArtifactRecord, error) {
	var rec ArtifactRecord
	err := s.get(ctx, &rec, selectArtifact+` WHERE hash = ? AND name = ? ORDER BY rowid LIMIT 1`, hash, name)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("find artifact %s %s: %w", name, hash, err)
	}
	return rec, nil
}

// StageInputs returns the inputs of a stage ordered by argument position.
func (s *Store) StageInputs(ctx context.Context, stageID string) ([]StageInput, error) {
	inputs := []StageInput{}
	err := s.db.SelectContext(ctx, &inputs,
		selectStageInput+` WHERE stage_id = ? ORDER BY arg_index ASC, artifact_id ASC`, stageID)
	if err != nil {
		return nil, fmt.Errorf("stage inputs %s: %w", stageID, err)
	}
	return inputs, nil
}

// ListItems returns the items of a list artifact in order.
func (s *Store) ListItems(ctx context.Context, listID string) ([]ListItem, error) {
	items := []ListItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT list_id, item_id, position FROM artifact_list_item
		WHERE list_id = ? ORDER BY position ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list items %s: %w", listID, err)
	}
	return items, nil
}

// Lineage walks upstream from an artifact: the artifact itself at depth 0,
// the inputs of its producing stage (or the items of a list) at depth 1,
// and so on. Each artifact appears once, at its shallowest depth.
func (s *Store) Lineage(ctx context.Context, artifactID string) ([]LineageNode, error) {
	if _, err := s.ReadArtifact(ctx, artifactID); err != nil {
		return nil, fmt.Errorf("lineage: %w", err)
	}

	type hop struct {
		ArtifactID string `db:"artifact_id"`
		Depth      int    `db:"depth"`
	}
	var hops []hop
	err := s.db.SelectContext(ctx, &hops, `
		WITH RECURSIVE upstream(artifact_id, depth) AS (
			SELECT ?, 0
			UNION
			SELECT si.artifact_id, u.depth + 1
			FROM upstream u
			JOIN artifact a ON a.id = u.artifact_id
			JOIN stage_input si ON si.stage_id = a.stage_id
			WHERE u.depth < ?
			UNION
			SELECT li.item_id, u.depth + 1
			FROM upstream u
			JOIN artifact_list_item li ON li.list_id = u.artifact_id
			WHERE u.depth < ?
		)
		SELECT artifact_id, MIN(depth) AS depth
		FROM upstream
		GROUP BY artifact_id
		ORDER BY depth ASC, artifact_id ASC
	`, artifactID, maxLineageDepth, maxLineageDepth)
	if err != nil {
		return nil, fmt.Errorf("lineage %s: %w", artifactID, err)
	}

	nodes := make([]LineageNode, 0, len(hops))
	for _, h := range hops {
		rec, err := s.ReadArtifact(ctx, h.ArtifactID)
		if err != nil {
			return nil, fmt.Errorf("lineage %s: %w", artifactID, err)
		}
		node := LineageNode{Depth: h.Depth, Artifact: rec}
		if rec.StageID != nil {
			stage, err := s.ReadStage(ctx, *rec.StageID)
			if err != nil {
				return nil, fmt.Errorf("lineage %s: %w", artifactID, err)
			}
			node.Stage = &stage
			if node.Inputs, err = s.StageInputs(ctx, stage.ID); err != nil {
				return nil, fmt.Errorf("lineage %s: %w", artifactID, err)
			}
		}
		if rec.IsList {
			if node.Items, err = s.ListItems(ctx, rec.ID); err != nil {
				return nil, fmt.Errorf("lineage %s: %w", artifactID, err)
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// get runs a single-row query, mapping no rows to ErrNotFound.
func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// SchemaDump renders the logical schema (tables with their columns and
// foreign keys, then indexes) in a stable text form. Two databases that
// reached the same version by different migration paths dump identically.
func (s *Store) SchemaDump(ctx context.Context) (string, error) {
	var tables []string
	if err := s.db.SelectContext(ctx, &tables, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`); err != nil {
		return "", fmt.Errorf("schema dump: %w", err)
	}

	var b strings.Builder
	for _, table := range tables {
		if err := s.dumpTable(ctx, &b, table); err != nil {
			return "", fmt.Errorf("schema dump %s: %w", table, err)
		}
	}
	if err := s.dumpIndexes(ctx, &b); err != nil {
		return "", fmt.Errorf("schema dump: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Store) dumpTable(ctx context.Context, b *strings.Builder, table string) error {
	type column struct {
		CID     int            `db:"cid"`
		Name    string         `db:"name"`
		Type    string         `db:"type"`
		NotNull bool           `db:"notnull"`
		Default sql.NullString `db:"dflt_value"`
		PK      int            `db:"pk"`
	}
	var cols []column
	if err := s.db.SelectContext(ctx, &cols,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table); err != nil {
		return err
	}

	type foreignKey struct {
		From string `db:"from"`
		To   string `db:"to"`
		Ref  string `db:"table"`
	}
	var fks []foreignKey
	if err := s.db.SelectContext(ctx, &fks,
		`SELECT "from", "to", "table" FROM pragma_foreign_key_list(?) ORDER BY "from"`, table); err != nil {
		return err
	}

	fmt.Fprintf(b, "table %s\n", table)
	for _, c := range cols {
		fmt.Fprintf(b, "  %s %s", c.Name, c.Type)
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Default.Valid {
			fmt.Fprintf(b, " DEFAULT %s", c.Default.String)
		}
		if c.PK > 0 {
			fmt.Fprintf(b, " PK%d", c.PK)
		}
		b.WriteString("\n")
	}
	for _, fk := range fks {
		fmt.Fprintf(b, "  FK %s -> %s(%s)\n", fk.From, fk.Ref, fk.To)
	}
	return nil
}

func (s *Store) dumpIndexes(ctx context.Context, b *strings.Builder) error {
	type index struct {
		Name  string `db:"name"`
		Table string `db:"tbl_name"`
	}
	var indexes []index
	if err := s.db.SelectContext(ctx, &indexes, `
		SELECT name, tbl_name FROM sqlite_master
		WHERE type = 'index' AND sql IS NOT NULL
		ORDER BY name
	`); err != nil {
		return err
	}

	for _, idx := range indexes {
		var cols []string
		if err := s.db.SelectContext(ctx, &cols,
			`SELECT name FROM pragma_index_info(?) ORDER BY seqno`, idx.Name); err != nil {
			return err
		}
		var unique bool
		if err := s.db.GetContext(ctx, &unique,
			`SELECT "unique" FROM pragma_index_list(?) WHERE name = ?`, idx.Table, idx.Name); err != nil {
			return err
		}
		kind := "index"
		if unique {
			kind = "unique index"
		}
		fmt.Fprintf(b, "%s %s ON %s (%s)\n", kind, idx.Name, idx.Table, strings.Join(cols, ", "))
	}
	return nil
}

func zapRun(r Run) []zap.Field {
	return []zap.Field{
		zap.String("run_id", r.ID),
		zap.String("reference", r.Reference),
		zap.Int64("run_number", r.RunNumber),
	}
}
