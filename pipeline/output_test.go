package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cairn/artifact"
	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/store"
)

var exportSpec = artifact.StageSpec{
	Name:   "export",
	Module: "numbers",
	Params: []artifact.Param{{Name: "n"}},
}

func TestStageOutput_OutsideStage(t *testing.T) {
	_, ok := StageOutput(context.Background(), "report")
	assert.False(t, ok)
}

func TestStageOutput_PathRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	build := func() *artifact.Artifact {
		report := artifact.New("report", cache.NewPathRefCacher())
		report.Into = func() any { return new(string) }
		_, err := artifact.NewStage(exportSpec, func(ctx context.Context, args artifact.Args) ([]any, error) {
			f.calls["export"]++
			out, ok := StageOutput(ctx, "report")
			if !ok {
				return nil, fmt.Errorf("no output path")
			}
			if err := os.WriteFile(out.Path, []byte(fmt.Sprint(args["n"])), 0o644); err != nil {
				return nil, err
			}
			return []any{out.Path}, nil
		}, artifact.Args{"n": 3}, report)
		require.NoError(t, err)
		return report
	}

	first := build()
	_, err := f.runner.Run(ctx, store.NewRun{ExperimentName: "exp"}, first)
	require.NoError(t, err)
	path := first.Value().(string)
	assert.Equal(t, f.cache.Root(), filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))

	second := build()
	_, err = f.runner.Run(ctx, store.NewRun{ExperimentName: "exp"}, second)
	require.NoError(t, err)
	assert.Equal(t, path, second.Value())
	assert.Equal(t, 1, f.calls["export"], "existing output short-circuits the stage")

	require.NoError(t, os.Remove(path))
	third := build()
	_, err = f.runner.Run(ctx, store.NewRun{ExperimentName: "exp"}, third)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls["export"], "missing output is recomputed")
}

func TestStageOutput_FileRefDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	build := func() *artifact.Artifact {
		files := artifact.New("files", cache.NewFileRefCacher())
		files.Into = func() any { return new([]string) }
		_, err := artifact.NewStage(exportSpec, func(ctx context.Context, args artifact.Args) ([]any, error) {
			f.calls["export"]++
			out, ok := StageOutput(ctx, "files")
			if !ok {
				return nil, fmt.Errorf("no output dir")
			}
			if err := os.MkdirAll(out.Dir, 0o755); err != nil {
				return nil, err
			}
			var paths []string
			for i := 0; i < args["n"].(int); i++ {
				p := filepath.Join(out.Dir, fmt.Sprintf("part_%d.txt", i))
				if err := os.WriteFile(p, []byte("part"), 0o644); err != nil {
					return nil, err
				}
				paths = append(paths, p)
			}
			return []any{paths}, nil
		}, artifact.Args{"n": 3}, files)
		require.NoError(t, err)
		return files
	}

	first := build()
	_, err := f.runner.Run(ctx, store.NewRun{ExperimentName: "exp"}, first)
	require.NoError(t, err)
	paths := first.Value().([]string)
	require.Len(t, paths, 3)

	second := build()
	_, err = f.runner.Run(ctx, store.NewRun{ExperimentName: "exp"}, second)
	require.NoError(t, err)
	assert.Equal(t, paths, second.Value())
	assert.Equal(t, 1, f.calls["export"])

	require.NoError(t, os.Remove(paths[1]))
	third := build()
	_, err = f.runner.Run(ctx, store.NewRun{ExperimentName: "exp"}, third)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls["export"], "a missing referenced file is a miss")
	assert.FileExists(t, paths[1])
}

func TestStageOutput_UncachedOutput(t *testing.T) {
	f := newFixture(t)

	out := artifact.New("plain", nil)
	_, err := artifact.NewStage(artifact.StageSpec{Name: "plain"}, func(ctx context.Context, _ artifact.Args) ([]any, error) {
		_, ok := StageOutput(ctx, "plain")
		return []any{ok}, nil
	}, nil, out)
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), store.NewRun{ExperimentName: "exp"}, out)
	require.NoError(t, err)
	assert.Equal(t, false, out.Value())
}
