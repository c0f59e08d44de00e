package artifact

import (
	"context"
	"fmt"

	"github.com/roach88/cairn/fingerprint"
)

// Param declares one stage argument.
type Param struct {
	Name    string
	Default any
	Mode    fingerprint.Mode

	// Hash replaces the value with a custom representation for
	// fingerprinting. Returning nil leaves the argument out.
	Hash func(v any) (any, error)
}

// StageSpec is the static definition of a stage: its identity and its
// ordered parameter list.
type StageSpec struct {
	Name   string
	Module string
	Params []Param
}

// Identity returns the fingerprint identity of the stage.
func (s StageSpec) Identity() fingerprint.StageIdentity {
	return fingerprint.StageIdentity{Name: s.Name, Module: s.Module}
}

// Args holds resolved argument values by parameter name. Artifact
// arguments are replaced by their values before Func runs.
type Args map[string]any

// Func computes a stage's outputs, one value per output artifact.
type Func func(ctx context.Context, args Args) ([]any, error)

// Input is an artifact consumed by a stage.
type Input struct {
	Index    int
	Name     string
	Artifact *Artifact
}

// Resolved is one argument after default substitution.
type Resolved struct {
	Param Param
	Index int
	Value any
}

// Stage binds a spec to argument values, a function and output artifacts.
type Stage struct {
	Spec StageSpec
	Func Func

	// Engine fingerprints the stage. Nil uses an engine without custom
	// rules.
	Engine *fingerprint.Engine

	args    Args
	outputs []*Artifact

	result *fingerprint.Result
}

var plainEngine = fingerprint.New()

// NewStage checks args against spec and takes ownership of outputs.
// Arguments may be plain values or *Artifact from other stages.
func NewStage(spec StageSpec, fn Func, args Args, outputs ...*Artifact) (*Stage, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("stage spec has no name")
	}

	params := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("stage %s: parameter with empty name", spec.Name)
		}
		if params[p.Name] {
			return nil, fmt.Errorf("stage %s: duplicate parameter %q", spec.Name, p.Name)
		}
		params[p.Name] = true
	}
	for name := range args {
		if !params[name] {
			return nil, fmt.Errorf("stage %s: unknown argument %q", spec.Name, name)
		}
	}

	s := &Stage{Spec: spec, Func: fn, args: make(Args, len(args))}
	for k, v := range args {
		s.args[k] = v
	}

	names := make(map[string]bool, len(outputs))
	for i, out := range outputs {
		if out == nil {
			return nil, fmt.Errorf("stage %s: output %d is nil", spec.Name, i)
		}
		if out.stage != nil {
			return nil, fmt.Errorf("stage %s: output %q already produced by %s", spec.Name, out.Name, out.stage.Spec.Name)
		}
		if out.isList {
			return nil, fmt.Errorf("stage %s: list artifact %q cannot be a stage output", spec.Name, out.Name)
		}
		if names[out.Name] {
			return nil, fmt.Errorf("stage %s: duplicate output %q", spec.Name, out.Name)
		}
		names[out.Name] = true
	}
	for i, out := range outputs {
		out.stage = s
		out.index = i
	}
	s.outputs = outputs
	return s, nil
}

// Name returns "module.name".
func (s *Stage) Name() string { return s.Spec.Identity().Qualified() }

// Outputs returns the produced artifacts in order.
func (s *Stage) Outputs() []*Artifact { return s.outputs }

// Resolved returns every parameter with its supplied value or default.
func (s *Stage) Resolved() []Resolved {
	out := make([]Resolved, len(s.Spec.Params))
	for i, p := range s.Spec.Params {
		v, ok := s.args[p.Name]
		if !ok {
			v = p.Default
		}
		out[i] = Resolved{Param: p, Index: i, Value: v}
	}
	return out
}

// Inputs lists the artifact arguments in parameter order.
func (s *Stage) Inputs() []Input {
	var inputs []Input
	for _, r := range s.Resolved() {
		if a, ok := r.Value.(*Artifact); ok && a != nil {
			inputs = append(inputs, Input{Index: r.Index, Name: r.Param.Name, Artifact: a})
		}
	}
	return inputs
}

// Fingerprint hashes the stage identity with its resolved arguments.
// Artifact arguments contribute their hash, never their value. The result
// is memoized.
func (s *Stage) Fingerprint() (fingerprint.Result, error) {
	if s.result != nil {
		return *s.result, nil
	}

	resolved := s.Resolved()
	args := make([]fingerprint.Arg, len(resolved))
	for i, r := range resolved {
		v := r.Value
		if a, ok := v.(*Artifact); ok && a != nil {
			ref, err := a.Ref()
			if err != nil {
				return fingerprint.Result{}, fmt.Errorf("stage %s argument %s: %w", s.Name(), r.Param.Name, err)
			}
			v = ref
		}
		args[i] = fingerprint.Arg{
			Name:   r.Param.Name,
			Index:  r.Index,
			Value:  v,
			Mode:   r.Param.Mode,
			Custom: r.Param.Hash,
		}
	}

	engine := s.Engine
	if engine == nil {
		engine = plainEngine
	}
	res, err := engine.Fingerprint(s.Spec.Identity(), args)
	if err != nil {
		return fingerprint.Result{}, err
	}
	s.result = &res
	return res, nil
}
