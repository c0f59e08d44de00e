package pipeline

import (
	"context"

	"github.com/roach88/cairn/store"
)

// Recorder persists run lineage.
type Recorder interface {
	CreateRun(ctx context.Context, nr store.NewRun) (store.Run, error)
	FinishRun(ctx context.Context, runID string, out store.Outcome) error
	RecordStage(ctx context.Context, runID string, ns store.NewStage) (store.Stage, bool, error)
	MarkStageStarted(ctx context.Context, stageID string) error
	MarkStageCompleted(ctx context.Context, stageID string) error
	RecordArtifact(ctx context.Context, runID string, na store.NewArtifact) (store.ArtifactRecord, bool, error)
	RecordStageInput(ctx context.Context, in store.StageInput) error
	RecordListItem(ctx context.Context, li store.ListItem) error
}

var _ Recorder = (*store.Store)(nil)

// NopRecorder records nothing. Use it for dry runs.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) CreateRun(_ context.Context, nr store.NewRun) (store.Run, error) {
	return store.Run{ExperimentName: nr.ExperimentName, Status: store.StatusRunning}, nil
}

func (NopRecorder) FinishRun(context.Context, string, store.Outcome) error { return nil }

func (NopRecorder) RecordStage(_ context.Context, runID string, ns store.NewStage) (store.Stage, bool, error) {
	return store.Stage{RunID: runID, FuncName: ns.FuncName, FuncModule: ns.FuncModule, Hash: ns.Hash}, false, nil
}

func (NopRecorder) MarkStageStarted(context.Context, string) error   { return nil }
func (NopRecorder) MarkStageCompleted(context.Context, string) error { return nil }

func (NopRecorder) RecordArtifact(_ context.Context, _ string, na store.NewArtifact) (store.ArtifactRecord, bool, error) {
	return store.ArtifactRecord{Name: na.Name, Hash: na.Hash}, false, nil
}

func (NopRecorder) RecordStageInput(context.Context, store.StageInput) error { return nil }
func (NopRecorder) RecordListItem(context.Context, store.ListItem) error     { return nil }
