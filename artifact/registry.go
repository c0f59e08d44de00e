package artifact

import (
	"fmt"
	"sync"
)

// Registry indexes the artifacts of one pipeline build by qualified name.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Artifact
	order  []*Artifact
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Artifact)}
}

// Register adds a under its qualified name. Registering a second artifact
// under a taken name is a no-op when both hash the same, and a
// *DuplicateArtifactError otherwise.
func (r *Registry) Register(a *Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", a.QualifiedName(), ErrFrozen)
	}

	name := a.QualifiedName()
	existing, ok := r.byName[name]
	if !ok {
		r.byName[name] = a
		r.order = append(r.order, a)
		return nil
	}
	if existing == a {
		return nil
	}

	have, err := existing.Hash()
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	got, err := a.Hash()
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if have != got {
		return &DuplicateArtifactError{Name: name, Existing: have, Incoming: got}
	}
	return nil
}

// Resolve returns the artifact registered under qualifiedName.
func (r *Registry) Resolve(qualifiedName string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byName[qualifiedName]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", qualifiedName, ErrNotRegistered)
	}
	return a, nil
}

// All returns the registered artifacts in registration order.
func (r *Registry) All() []*Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Artifact, len(r.order))
	copy(out, r.order)
	return out
}

// Freeze ends construction: qualified names stop following scope changes
// and no more artifacts can be registered.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.order {
		a.freeze()
	}
	r.frozen = true
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Reset empties the registry for an unrelated build.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName = make(map[string]*Artifact)
	r.order = nil
	r.frozen = false
}
