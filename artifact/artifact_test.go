package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/fingerprint"
)

var loadSpec = StageSpec{
	Name:   "load",
	Module: "iris",
	Params: []Param{
		{Name: "seed", Default: 42},
		{Name: "lr", Default: 0.1},
	},
}

var trainSpec = StageSpec{
	Name:   "train",
	Module: "iris",
	Params: []Param{{Name: "data"}, {Name: "epochs", Default: 10}},
}

func noop(context.Context, Args) ([]any, error) { return nil, nil }

// newLoad returns the "data" artifact of a load stage.
func newLoad(t *testing.T, args Args) *Artifact {
	t.Helper()
	data := New("data", cache.NewJSONCacher())
	_, err := NewStage(loadSpec, noop, args, data)
	require.NoError(t, err)
	return data
}

func newTrain(t *testing.T, data *Artifact, args Args) *Artifact {
	t.Helper()
	if args == nil {
		args = Args{}
	}
	args["data"] = data
	model := New("model", cache.NewGobCacher())
	_, err := NewStage(trainSpec, noop, args, model)
	require.NoError(t, err)
	return model
}

func TestArtifactHashDerivesFromStage(t *testing.T) {
	data := newLoad(t, Args{"seed": 1})

	h, err := data.Hash()
	require.NoError(t, err)

	res, err := data.Stage().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fingerprint.ArtifactHash(res.Hash, "data", 0), h)

	again := newLoad(t, Args{"seed": 1})
	h2, err := again.Hash()
	require.NoError(t, err)
	assert.Equal(t, h, h2, "identical inputs in separate builds")
}

func TestDefaultsAreResolvedBeforeHashing(t *testing.T) {
	explicit, err := newLoad(t, Args{"seed": 42}).Hash()
	require.NoError(t, err)
	implicit, err := newLoad(t, nil).Hash()
	require.NoError(t, err)

	assert.Equal(t, explicit, implicit)
}

func TestOutputsHashByPosition(t *testing.T) {
	train := New("train", nil)
	test := New("test", nil)
	s, err := NewStage(StageSpec{Name: "split"}, noop, nil, train, test)
	require.NoError(t, err)

	assert.Equal(t, 0, train.Index())
	assert.Equal(t, 1, test.Index())
	assert.Same(t, s, test.Stage())

	a, err := train.Hash()
	require.NoError(t, err)
	b, err := test.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestUpstreamChangePropagates(t *testing.T) {
	m1, err := newTrain(t, newLoad(t, Args{"seed": 1}), nil).Hash()
	require.NoError(t, err)
	m2, err := newTrain(t, newLoad(t, Args{"seed": 2}), nil).Hash()
	require.NoError(t, err)
	m3, err := newTrain(t, newLoad(t, Args{"seed": 1}), nil).Hash()
	require.NoError(t, err)

	assert.NotEqual(t, m1, m2)
	assert.Equal(t, m1, m3)
}

func TestFloatDefaultExcluded(t *testing.T) {
	a, err := newLoad(t, Args{"lr": 0.5}).Hash()
	require.NoError(t, err)
	b, err := newLoad(t, Args{"lr": 0.9}).Hash()
	require.NoError(t, err)
	assert.Equal(t, a, b, "floats are excluded unless the param asks for them")

	spec := StageSpec{Name: "fit", Params: []Param{{Name: "lr", Mode: fingerprint.HashInclude}}}
	x := New("x", nil)
	_, err = NewStage(spec, noop, Args{"lr": 0.5}, x)
	require.NoError(t, err)
	y := New("x", nil)
	_, err = NewStage(spec, noop, Args{"lr": 0.9}, y)
	require.NoError(t, err)

	hx, err := x.Hash()
	require.NoError(t, err)
	hy, err := y.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, hx, hy)
}

func TestStageInputs(t *testing.T) {
	data := newLoad(t, nil)
	model := newTrain(t, data, Args{"epochs": 3})

	inputs := model.Stage().Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, Input{Index: 0, Name: "data", Artifact: data}, inputs[0])
	assert.Equal(t, []*Artifact{data}, model.Upstream())

	res, err := model.Stage().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, res.Details["data"].Upstream)
}

func TestNewStageValidation(t *testing.T) {
	_, err := NewStage(StageSpec{}, noop, nil)
	assert.Error(t, err)

	_, err = NewStage(loadSpec, noop, Args{"nope": 1})
	assert.Error(t, err)

	_, err = NewStage(StageSpec{Name: "s", Params: []Param{{Name: "a"}, {Name: "a"}}}, noop, nil)
	assert.Error(t, err)

	_, err = NewStage(StageSpec{Name: "s"}, noop, nil, New("x", nil), New("x", nil))
	assert.Error(t, err)

	owned := newLoad(t, nil)
	_, err = NewStage(StageSpec{Name: "s"}, noop, nil, owned)
	assert.Error(t, err)

	_, err = NewStage(StageSpec{Name: "s"}, noop, nil, NewList("l"))
	assert.Error(t, err)
}

func TestHashingErrorSurfaces(t *testing.T) {
	type opaque struct{ n int }
	a := New("a", nil)
	_, err := NewStage(StageSpec{Name: "s", Params: []Param{{Name: "cfg"}}}, noop, Args{"cfg": opaque{1}}, a)
	require.NoError(t, err)

	_, err = a.Hash()
	assert.True(t, fingerprint.IsHashingError(err))

	_, err = New("orphan", nil).Hash()
	assert.Error(t, err)
}

func TestListArtifact(t *testing.T) {
	a := newLoad(t, Args{"seed": 1})
	b := newLoad(t, Args{"seed": 2})

	list := NewList("all", a, b)
	assert.True(t, list.IsList())
	assert.Equal(t, []*Artifact{a, b}, list.Upstream())

	h, err := list.Hash()
	require.NoError(t, err)
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	assert.Equal(t, fingerprint.ListHash("all", []fingerprint.Hash{ha, hb}), h)

	reversed, err := NewList("all", b, a).Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h, reversed)
}

func TestNeedsOverwrite(t *testing.T) {
	data := newLoad(t, nil)
	model := newTrain(t, data, nil)
	other := newLoad(t, Args{"seed": 3})

	assert.False(t, model.NeedsOverwrite())

	data.Overwrite = true
	assert.True(t, data.NeedsOverwrite())
	assert.True(t, model.NeedsOverwrite(), "downstream of an overwritten artifact")
	assert.False(t, other.NeedsOverwrite())
}

func TestSetValue(t *testing.T) {
	a := New("a", nil)
	assert.False(t, a.Materialized())
	a.SetValue([]int{1})
	assert.True(t, a.Materialized())
	assert.Equal(t, []int{1}, a.Value())
}

func TestCustomParamHash(t *testing.T) {
	spec := StageSpec{Name: "s", Params: []Param{{
		Name: "path",
		Hash: func(v any) (any, error) {
			if v.(string) == "" {
				return nil, errors.New("empty path")
			}
			return "normalized", nil
		},
	}}}

	x := New("x", nil)
	_, err := NewStage(spec, noop, Args{"path": "/a/b"}, x)
	require.NoError(t, err)
	y := New("x", nil)
	_, err = NewStage(spec, noop, Args{"path": "/c/d"}, y)
	require.NoError(t, err)

	hx, err := x.Hash()
	require.NoError(t, err)
	hy, err := y.Hash()
	require.NoError(t, err)
	assert.Equal(t, hx, hy)
}

func TestHashDetectsDependencyCycle(t *testing.T) {
	x := New("x", nil)
	y := New("y", nil)
	_, err := NewStage(trainSpec, noop, Args{"data": x}, y)
	require.NoError(t, err)
	_, err = NewStage(trainSpec, noop, Args{"data": y}, x)
	require.NoError(t, err)

	_, err = y.Hash()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}
