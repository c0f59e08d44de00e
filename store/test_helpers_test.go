package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cairn/idgen"
	"github.com/roach88/cairn/internal/testutil"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// createTestStore opens a fresh store with a one-second-step clock and
// sequential ids.
func createTestStore(t *testing.T) (*Store, *testutil.FixedClock) {
	t.Helper()
	clock := testutil.NewFixedClock(epoch, time.Second)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now), WithIDGenerator(idgen.NewSequence("id")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestRun creates a running run for experiment exp.
func createTestRun(t *testing.T, s *Store, exp string) Run {
	t.Helper()
	run, err := s.CreateRun(context.Background(), NewRun{ExperimentName: exp})
	require.NoError(t, err)
	return run
}

// recordTestStage records a stage with the given hash under run.
func recordTestStage(t *testing.T, s *Store, runID, name, hash string) Stage {
	t.Helper()
	stage, _, err := s.RecordStage(context.Background(), runID, NewStage{
		FuncName:   name,
		FuncModule: "pipeline",
		Hash:       hash,
	})
	require.NoError(t, err)
	return stage
}

// recordTestArtifact records an artifact produced by stageID.
func recordTestArtifact(t *testing.T, s *Store, runID, stageID, name, hash string) ArtifactRecord {
	t.Helper()
	rec, _, err := s.RecordArtifact(context.Background(), runID, NewArtifact{
		StageID:    stageID,
		Name:       name,
		Hash:       hash,
		CacherType: "json",
	})
	require.NoError(t, err)
	return rec
}
