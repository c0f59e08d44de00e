package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// maxRepr bounds the stored display string of an artifact.
const maxRepr = 100

// CreateRun inserts a run in the running state. The run number is one more
// than the highest number recorded for the experiment, allocated inside the
// write-locked transaction so concurrent processes never share a number.
func (s *Store) CreateRun(ctx context.Context, nr NewRun) (Run, error) {
	if nr.ExperimentName == "" {
		return Run{}, fmt.Errorf("create run: experiment name is required")
	}
	paramFiles, err := marshalJSON(nr.ParamFiles, "[]")
	if err != nil {
		return Run{}, fmt.Errorf("create run: param files: %w", err)
	}
	params, err := marshalJSON(nr.Params, "{}")
	if err != nil {
		return Run{}, fmt.Errorf("create run: params: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("create run: begin: %w", err)
	}
	defer tx.Rollback()

	var number int64
	if err := tx.GetContext(ctx, &number,
		`SELECT COALESCE(MAX(run_number), 0) + 1 FROM run WHERE experiment_name = ?`,
		nr.ExperimentName); err != nil {
		return Run{}, fmt.Errorf("create run: next run number: %w", err)
	}

	id := s.ids.Generate()
	ts := s.now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO run
		(id, reference, experiment_name, run_number, timestamp, "commit", param_files, params,
		 workdir_dirty, full_store, status, cli, hostname, "user", notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		Reference(nr.ExperimentName, number, ts),
		nr.ExperimentName,
		number,
		ts,
		nr.Commit,
		paramFiles,
		params,
		nr.WorkdirDirty,
		nr.FullStore,
		string(StatusRunning),
		nr.CLI,
		nr.Hostname,
		nr.User,
		nr.Notes,
	)
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}

	var run Run
	if err := tx.GetContext(ctx, &run, selectRun+` WHERE id = ?`, id); err != nil {
		return Run{}, fmt.Errorf("create run: read back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("create run: commit: %w", err)
	}

	s.logger.Debug("created run", zapRun(run)...)
	return run, nil
}

// Reference formats a run's human-readable reference.
func Reference(experiment string, number int64, ts time.Time) string {
	return fmt.Sprintf("%s_%d_%s", experiment, number, ts.UTC().Format("2006-01-02-T150405"))
}

// FinishRun moves a running run to a terminal status and sets its end time.
// Any other transition returns a *TransitionError. The exception fields are
// written only for StatusError.
func (s *Store) FinishRun(ctx context.Context, runID string, out Outcome) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run: begin: %w", err)
	}
	defer tx.Rollback()

	var current Status
	err = tx.GetContext(ctx, &current, `SELECT status FROM run WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if current != StatusRunning || !out.Status.Terminal() {
		return &TransitionError{RunID: runID, From: current, To: out.Status}
	}

	var exception, stack sql.NullString
	if out.Status == StatusError {
		exception = sql.NullString{String: out.Exception, Valid: true}
		stack = sql.NullString{String: out.ExceptionStack, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE run SET status = ?, end_time = ?, exception = ?, exception_stack = ?
		WHERE id = ?
	`, string(out.Status), s.now().UTC(), exception, stack, runID); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish run %s: commit: %w", runID, err)
	}
	return nil
}

// RecordStage links a stage invocation to a run. When a stage with the same
// hash already exists its row is reused and reused is true; otherwise a new
// row owned by runID is inserted.
func (s *Store) RecordStage(ctx context.Context, runID string, ns NewStage) (stage Stage, reused bool, err error) {
	if ns.Hash == "" {
		return Stage{}, false, fmt.Errorf("record stage %s: hash is required", ns.FuncName)
	}
	params, err := marshalJSON(ns.Params, "{}")
	if err != nil {
		return Stage{}, false, fmt.Errorf("record stage %s: params: %w", ns.FuncName, err)
	}
	details, err := marshalJSON(ns.HashDetails, "{}")
	if err != nil {
		return Stage{}, false, fmt.Errorf("record stage %s: hash details: %w", ns.FuncName, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Stage{}, false, fmt.Errorf("record stage %s: begin: %w", ns.FuncName, err)
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &stage, selectStage+` WHERE hash = ? ORDER BY rowid LIMIT 1`, ns.Hash)
	switch {
	case err == nil:
		reused = true
	case errors.Is(err, sql.ErrNoRows):
		id := s.ids.Generate()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stage (id, run_id, func_name, func_module, params, hash, hash_details)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, runID, ns.FuncName, ns.FuncModule, params, ns.Hash, details); err != nil {
			return Stage{}, false, fmt.Errorf("record stage %s: %w", ns.FuncName, err)
		}
		if err := tx.GetContext(ctx, &stage, selectStage+` WHERE id = ?`, id); err != nil {
			return Stage{}, false, fmt.Errorf("record stage %s: read back: %w", ns.FuncName, err)
		}
	default:
		return Stage{}, false, fmt.Errorf("record stage %s: %w", ns.FuncName, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_stage (run_id, stage_id) VALUES (?, ?)`,
		runID, stage.ID); err != nil {
		return Stage{}, false, fmt.Errorf("record stage %s: link run: %w", ns.FuncName, err)
	}
	if err := tx.Commit(); err != nil {
		return Stage{}, false, fmt.Errorf("record stage %s: commit: %w", ns.FuncName, err)
	}
	return stage, reused, nil
}

// MarkStageStarted sets a stage's start time to now.
func (s *Store) MarkStageStarted(ctx context.Context, stageID string) error {
	return s.touchStage(ctx, stageID, "start_time")
}

// MarkStageCompleted sets a stage's end time to now.
func (s *Store) MarkStageCompleted(ctx context.Context, stageID string) error {
	return s.touchStage(ctx, stageID, "end_time")
}

func (s *Store) touchStage(ctx context.Context, stageID, column string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stage SET `+column+` = ? WHERE id = ?`, s.now().UTC(), stageID)
	if err != nil {
		return fmt.Errorf("set stage %s %s: %w", stageID, column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set stage %s %s: %w", stageID, column, err)
	}
	if n == 0 {
		return fmt.Errorf("set stage %s %s: %w", stageID, column, ErrNotFound)
	}
	return nil
}

// RecordArtifact links an artifact to a run. An existing row with the same
// hash and name is reused; otherwise a new row is inserted with the current
// time as its generated time.
func (s *Store) RecordArtifact(ctx context.Context, runID string, na NewArtifact) (rec ArtifactRecord, reused bool, err error) {
	if na.Name == "" || na.Hash == "" {
		return ArtifactRecord{}, false, fmt.Errorf("record artifact: name and hash are required")
	}
	cacherParams, err := marshalJSON(na.CacherParams, "{}")
	if err != nil {
		return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: cacher params: %w", na.Name, err)
	}
	extra, err := marshalJSON(na.ExtraMetadata, "{}")
	if err != nil {
		return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: extra metadata: %w", na.Name, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: begin: %w", na.Name, err)
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &rec,
		selectArtifact+` WHERE hash = ? AND name = ? ORDER BY rowid LIMIT 1`, na.Hash, na.Name)
	switch {
	case err == nil:
		reused = true
	case errors.Is(err, sql.ErrNoRows):
		id := s.ids.Generate()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artifact
			(id, stage_id, name, hash, generated_time, artifact_type, cacher_type, cacher_module,
			 cacher_params, reportable, extra_metadata, repr, is_list)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			nullString(na.StageID),
			na.Name,
			na.Hash,
			s.now().UTC(),
			na.ArtifactType,
			na.CacherType,
			na.CacherModule,
			cacherParams,
			na.Reportable,
			extra,
			truncateRepr(na.Repr),
			na.IsList,
		); err != nil {
			return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: %w", na.Name, err)
		}
		if err := tx.GetContext(ctx, &rec, selectArtifact+` WHERE id = ?`, id); err != nil {
			return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: read back: %w", na.Name, err)
		}
	default:
		return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: %w", na.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_artifact (run_id, artifact_id) VALUES (?, ?)`,
		runID, rec.ID); err != nil {
		return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: link run: %w", na.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return ArtifactRecord{}, false, fmt.Errorf("record artifact %s: commit: %w", na.Name, err)
	}
	return rec, reused, nil
}

// RecordStageInput records that a stage consumed an artifact at an argument
// position. Recording the same input twice is a no-op.
func (s *Store) RecordStageInput(ctx context.Context, in StageInput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO stage_input (stage_id, artifact_id, arg_index, arg_name, stage_dependency_id)
		VALUES (?, ?, ?, ?, ?)
	`, in.StageID, in.ArtifactID, in.ArgIndex, in.ArgName, in.StageDependencyID)
	if err != nil {
		return fmt.Errorf("record stage input %s[%d]: %w", in.StageID, in.ArgIndex, err)
	}
	return nil
}

// RecordListItem records that a list artifact holds an artifact at a
// position. Recording the same item twice is a no-op.
func (s *Store) RecordListItem(ctx context.Context, li ListItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifact_list_item (list_id, item_id, position)
		VALUES (?, ?, ?)
	`, li.ListID, li.ItemID, li.Position)
	if err != nil {
		return fmt.Errorf("record list item %s[%d]: %w", li.ListID, li.Position, err)
	}
	return nil
}

// marshalJSON encodes v, storing empty for nil values.
func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func truncateRepr(s string) string {
	if utf8.RuneCountInString(s) <= maxRepr {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRepr-3]) + "..."
}
