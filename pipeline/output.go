package pipeline

import (
	"context"

	"github.com/roach88/cairn/artifact"
)

// Output is where the cache keeps one output of the running stage.
type Output struct {
	// Path is the payload location. A PathRefCacher output must be written
	// here and the path returned.
	Path string

	// Dir is reserved for files the stage writes itself and references
	// through a FileRefCacher. It is not created.
	Dir string
}

type outputsKey struct{}

// StageOutput returns the cache location of the named output of the stage
// running with ctx. ok is false outside a stage function and for outputs
// that are not cached.
func StageOutput(ctx context.Context, name string) (Output, bool) {
	outs, _ := ctx.Value(outputsKey{}).(map[string]Output)
	out, ok := outs[name]
	return out, ok
}

// withOutputPaths exposes the cache locations of st's outputs to its
// function.
func (s *Session) withOutputPaths(ctx context.Context, st *artifact.Stage) context.Context {
	if s.runner.Cache == nil {
		return ctx
	}
	outs := make(map[string]Output, len(st.Outputs()))
	for _, a := range st.Outputs() {
		if a.Cacher == nil {
			continue
		}
		h, err := a.Hash()
		if err != nil {
			continue
		}
		e := s.entry(a, h)
		outs[a.Name] = Output{Path: e.Path(), Dir: e.Dir()}
	}
	return context.WithValue(ctx, outputsKey{}, outs)
}
