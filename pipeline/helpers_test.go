package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cairn/artifact"
	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/internal/testutil"
	"github.com/roach88/cairn/store"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

var (
	loadSpec = artifact.StageSpec{
		Name:   "load",
		Module: "numbers",
		Params: []artifact.Param{{Name: "n", Default: 3}},
	}
	sumSpec = artifact.StageSpec{
		Name:   "sum",
		Module: "numbers",
		Params: []artifact.Param{{Name: "data"}},
	}
)

type fixture struct {
	runner *Runner
	store  *store.Store
	cache  *cache.Store
	calls  map[string]int
}

// newFixture wires a runner to a real store and cache in a temp dir.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewFixedClock(epoch, time.Second)

	st, err := store.Open(filepath.Join(dir, "cairn.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c, err := cache.Open(filepath.Join(dir, "cache"), cache.WithClock(clock.Now))
	require.NoError(t, err)

	return &fixture{
		runner: &Runner{Cache: c, Recorder: st, Clock: clock.Now},
		store:  st,
		cache:  c,
		calls:  map[string]int{},
	}
}

// build declares load(n) -> data and sum(data) -> total.
func (f *fixture) build(t *testing.T, n int) (data, total *artifact.Artifact) {
	t.Helper()

	data = artifact.New("data", cache.NewJSONCacher())
	data.Into = func() any { return new([]int) }
	_, err := artifact.NewStage(loadSpec, func(_ context.Context, args artifact.Args) ([]any, error) {
		f.calls["load"]++
		n := args["n"].(int)
		vals := make([]int, n)
		for i := range vals {
			vals[i] = i
		}
		return []any{vals}, nil
	}, artifact.Args{"n": n}, data)
	require.NoError(t, err)

	total = artifact.New("total", cache.NewJSONCacher())
	total.Into = func() any { return new(int) }
	_, err = artifact.NewStage(sumSpec, func(_ context.Context, args artifact.Args) ([]any, error) {
		f.calls["sum"]++
		sum := 0
		for _, v := range args["data"].([]int) {
			sum += v
		}
		return []any{sum}, nil
	}, artifact.Args{"data": data}, total)
	require.NoError(t, err)

	return data, total
}

// failing declares a single stage whose function is fn.
func failing(t *testing.T, fn artifact.Func) *artifact.Artifact {
	t.Helper()
	out := artifact.New("out", cache.NewJSONCacher())
	_, err := artifact.NewStage(artifact.StageSpec{Name: "fail", Module: "numbers"}, fn, nil, out)
	require.NoError(t, err)
	return out
}
