package artifact

import (
	"fmt"
	"reflect"
	"strings"
)

// MemberKind tags what a scope member holds.
type MemberKind int

const (
	MemberArtifact MemberKind = iota
	MemberScope
	MemberValue
)

func (k MemberKind) String() string {
	switch k {
	case MemberArtifact:
		return "artifact"
	case MemberScope:
		return "scope"
	case MemberValue:
		return "value"
	}
	return fmt.Sprintf("MemberKind(%d)", int(k))
}

// Member is one declared entry of a scope. Exactly one of Artifact, Scope
// or Value is meaningful, according to Kind.
type Member struct {
	Kind     MemberKind
	Name     string
	Artifact *Artifact
	Scope    *Scope
	Value    any
}

// Scope is a named grouping of artifacts, nested into a tree. Qualified
// artifact names are the path of scope names down to the artifact.
type Scope struct {
	name    string
	parent  *Scope
	members []Member
	built   bool
}

// NewScope creates a detached scope. An empty name adds no path segment.
func NewScope(name string) *Scope {
	return &Scope{name: name}
}

func (s *Scope) Name() string { return s.name }

func (s *Scope) Parent() *Scope { return s.parent }

// Members returns the declarations in order.
func (s *Scope) Members() []Member { return s.members }

// Path joins the non-empty scope names from the root down to s.
func (s *Scope) Path() string {
	var parts []string
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name != "" {
			parts = append(parts, cur.name)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

func (s *Scope) root() *Scope {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

func (s *Scope) mutable() error {
	if s.root().built {
		return fmt.Errorf("scope %q: %w", s.Path(), ErrFrozen)
	}
	return nil
}

// Add declares a as a member. Moving an artifact between scopes changes its
// qualified name until the scope is built.
func (s *Scope) Add(a *Artifact) error {
	if err := s.mutable(); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("scope %q: nil artifact", s.Path())
	}
	if a.scope != nil && a.scope != s {
		a.scope.drop(MemberArtifact, func(m Member) bool { return m.Artifact == a })
	}
	a.scope = s
	s.members = append(s.members, Member{Kind: MemberArtifact, Name: a.Name, Artifact: a})
	return nil
}

// Nest declares child as a nested scope.
func (s *Scope) Nest(child *Scope) error {
	if err := s.mutable(); err != nil {
		return err
	}
	if child == nil {
		return fmt.Errorf("scope %q: nil child scope", s.Path())
	}
	for cur := s; cur != nil; cur = cur.parent {
		if cur == child {
			return fmt.Errorf("scope %q: nesting %q would create a cycle", s.Path(), child.name)
		}
	}
	if child.parent != nil && child.parent != s {
		child.parent.drop(MemberScope, func(m Member) bool { return m.Scope == child })
	}
	child.parent = s
	s.members = append(s.members, Member{Kind: MemberScope, Name: child.name, Scope: child})
	return nil
}

// Set declares a plain value member. Values are recorded but never
// registered.
func (s *Scope) Set(name string, v any) error {
	if err := s.mutable(); err != nil {
		return err
	}
	s.members = append(s.members, Member{Kind: MemberValue, Name: name, Value: v})
	return nil
}

func (s *Scope) drop(kind MemberKind, match func(Member) bool) {
	kept := s.members[:0]
	for _, m := range s.members {
		if m.Kind == kind && match(m) {
			continue
		}
		kept = append(kept, m)
	}
	s.members = kept
}

// Bind declares the exported fields of the struct pointed to by ptr:
// *Artifact fields become artifacts, *Scope fields nested scopes,
// []*Artifact fields one artifact per element, and anything else a plain
// value. Fields tagged `cairn:"-"` are ignored, as are nil pointers.
// An artifact with an empty Name takes the field name.
func (s *Scope) Bind(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind: need a non-nil struct pointer, got %T", ptr)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() || f.Tag.Get("cairn") == "-" {
			continue
		}
		fv := rv.Field(i)

		var err error
		switch v := fv.Interface().(type) {
		case *Artifact:
			if v == nil {
				continue
			}
			if v.Name == "" {
				v.Name = f.Name
			}
			err = s.Add(v)
		case *Scope:
			if v == nil {
				continue
			}
			if v.name == "" {
				v.name = f.Name
			}
			err = s.Nest(v)
		case []*Artifact:
			for _, a := range v {
				if a == nil {
					continue
				}
				if err = s.Add(a); err != nil {
					break
				}
			}
		default:
			err = s.Set(f.Name, v)
		}
		if err != nil {
			return fmt.Errorf("bind field %s: %w", f.Name, err)
		}
	}
	return nil
}

// Build registers every artifact declared in s and its nested scopes, then
// freezes the registry and the qualified names. s must be a root scope.
func (s *Scope) Build(reg *Registry) error {
	if s.parent != nil {
		return fmt.Errorf("build: scope %q is nested in %q", s.name, s.parent.Path())
	}
	if err := s.mutable(); err != nil {
		return err
	}
	if err := s.register(reg); err != nil {
		return err
	}
	reg.Freeze()
	s.built = true
	return nil
}

func (s *Scope) register(reg *Registry) error {
	for _, m := range s.members {
		switch m.Kind {
		case MemberArtifact:
			if err := reg.Register(m.Artifact); err != nil {
				return err
			}
		case MemberScope:
			if err := m.Scope.register(reg); err != nil {
				return err
			}
		}
	}
	return nil
}
