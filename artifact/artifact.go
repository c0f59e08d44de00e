package artifact

import (
	"fmt"

	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/fingerprint"
)

// Artifact is a named unit of pipeline output.
type Artifact struct {
	Name string

	// Cacher stores the value. Nil means the artifact is never cached.
	Cacher cache.Cacher

	// PathOverride fixes the cache location, shared across runs regardless
	// of hash.
	PathOverride string

	// Reportable marks artifacts an external reporter should render.
	Reportable bool

	// ExtraMetadata is copied into the cache sidecar and the store.
	ExtraMetadata map[string]any

	// Overwrite forces recomputation of this artifact and everything
	// downstream of it.
	Overwrite bool

	// Into returns a fresh pointer for a cached value to be decoded into,
	// such as new([]int) or new(cache.Table). Nil decodes into *any, which
	// only suits self-describing formats like JSON and YAML.
	Into func() any

	scope *Scope
	stage *Stage
	index int

	isList bool
	items  []*Artifact

	qualified string
	frozen    bool

	hash    fingerprint.Hash
	hashed  bool
	hashing bool

	value        any
	materialized bool
}

// New creates an artifact stored with c.
func New(name string, c cache.Cacher) *Artifact {
	return &Artifact{Name: name, Cacher: c}
}

// NewList creates an artifact whose value is the ordered values of items.
// Its hash derives from the item hashes.
func NewList(name string, items ...*Artifact) *Artifact {
	return &Artifact{Name: name, isList: true, items: items}
}

// Stage returns the producing stage, or nil for list artifacts.
func (a *Artifact) Stage() *Stage { return a.stage }

// Index is the artifact's position among its stage's outputs.
func (a *Artifact) Index() int { return a.index }

// Scope returns the declaring scope, if any.
func (a *Artifact) Scope() *Scope { return a.scope }

func (a *Artifact) IsList() bool { return a.isList }

// Items returns the sub-artifacts of a list artifact.
func (a *Artifact) Items() []*Artifact { return a.items }

// QualifiedName joins the enclosing scope names and the artifact name with
// ".". It follows scope changes until the registry freezes it.
func (a *Artifact) QualifiedName() string {
	if a.frozen {
		return a.qualified
	}
	if a.scope == nil || a.scope.Path() == "" {
		return a.Name
	}
	return a.scope.Path() + "." + a.Name
}

func (a *Artifact) freeze() {
	a.qualified = a.QualifiedName()
	a.frozen = true
}

// Hash returns the artifact hash, computing and memoizing it on first use.
func (a *Artifact) Hash() (fingerprint.Hash, error) {
	if a.hashed {
		return a.hash, nil
	}
	if a.hashing {
		return "", fmt.Errorf("artifact %q depends on itself", a.Name)
	}
	a.hashing = true
	defer func() { a.hashing = false }()

	var h fingerprint.Hash
	switch {
	case a.isList:
		items := make([]fingerprint.Hash, len(a.items))
		for i, item := range a.items {
			ih, err := item.Hash()
			if err != nil {
				return "", fmt.Errorf("list %s item %d: %w", a.Name, i, err)
			}
			items[i] = ih
		}
		h = fingerprint.ListHash(a.Name, items)
	case a.stage != nil:
		res, err := a.stage.Fingerprint()
		if err != nil {
			return "", err
		}
		h = fingerprint.ArtifactHash(res.Hash, a.Name, a.index)
	default:
		return "", fmt.Errorf("artifact %q has no producing stage", a.Name)
	}

	a.hash = h
	a.hashed = true
	return h, nil
}

// Ref is the fingerprint stand-in used when this artifact is a stage input.
func (a *Artifact) Ref() (fingerprint.Ref, error) {
	h, err := a.Hash()
	if err != nil {
		return fingerprint.Ref{}, err
	}
	return fingerprint.Ref{Name: a.QualifiedName(), Hash: h}, nil
}

// Materialized reports whether the value is held in memory.
func (a *Artifact) Materialized() bool { return a.materialized }

// Value returns the in-memory value, nil until materialized.
func (a *Artifact) Value() any { return a.value }

// SetValue holds v in memory and marks the artifact materialized.
func (a *Artifact) SetValue(v any) {
	a.value = v
	a.materialized = true
}

// Upstream returns the artifacts this one depends on directly: the stage
// inputs, or the items of a list.
func (a *Artifact) Upstream() []*Artifact {
	if a.isList {
		return a.items
	}
	if a.stage == nil {
		return nil
	}
	inputs := a.stage.Inputs()
	out := make([]*Artifact, len(inputs))
	for i, in := range inputs {
		out[i] = in.Artifact
	}
	return out
}

// NeedsOverwrite reports whether this artifact or anything upstream of it
// has Overwrite set.
func (a *Artifact) NeedsOverwrite() bool {
	seen := map[*Artifact]bool{}
	var walk func(*Artifact) bool
	walk = func(x *Artifact) bool {
		if seen[x] {
			return false
		}
		seen[x] = true
		if x.Overwrite {
			return true
		}
		for _, up := range x.Upstream() {
			if walk(up) {
				return true
			}
		}
		return false
	}
	return walk(a)
}

func (a *Artifact) String() string {
	return fmt.Sprintf("Artifact %q", a.QualifiedName())
}
