package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand"
	randv2 "math/rand/v2"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Mode controls how a single argument contributes to a fingerprint.
type Mode int

const (
	// HashAuto hashes deterministic values and excludes floats, timestamps
	// and random sources. An excluded top-level value skips the argument;
	// an excluded nested value is replaced by a placeholder.
	HashAuto Mode = iota

	// HashInclude also hashes floats and timestamps.
	HashInclude

	// HashSkip never hashes the argument.
	HashSkip
)

func (m Mode) String() string {
	switch m {
	case HashAuto:
		return "auto"
	case HashInclude:
		return "include"
	case HashSkip:
		return "skip"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// StageIdentity distinguishes stages with otherwise identical arguments.
type StageIdentity struct {
	Name   string
	Module string
}

// Qualified returns "module.name", or just the name without a module.
func (id StageIdentity) Qualified() string {
	if id.Module == "" {
		return id.Name
	}
	return id.Module + "." + id.Name
}

// Arg is one resolved stage argument. Upstream artifacts are passed as Ref
// values (or slices/maps containing Refs).
type Arg struct {
	Name  string
	Index int
	Value any
	Mode  Mode

	// Custom replaces the value with its own representation before
	// canonicalization. Returning nil skips the argument.
	Custom func(v any) (any, error)
}

// ArgDetail records how one argument contributed, for debugging cache misses.
type ArgDetail struct {
	Index    int      `json:"index"`
	Repr     string   `json:"repr,omitempty"`
	Hash     Hash     `json:"hash,omitempty"`
	Skipped  string   `json:"skipped,omitempty"`
	Excluded []string `json:"excluded,omitempty"`
	Upstream []string `json:"upstream,omitempty"`
}

// Details maps argument name to its contribution.
type Details map[string]ArgDetail

// Result is a stage fingerprint plus its breakdown.
type Result struct {
	Hash    Hash
	Details Details
}

// Canonical lets a type provide its own hashable representation. The
// returned value is canonicalized again, so it may be a map, slice or
// primitive.
type Canonical interface {
	CanonicalValue() (any, error)
}

// Canonicalizer converts a value of a registered type to a hashable
// representation, like Canonical does for types you own.
type Canonicalizer func(v any) (any, error)

const (
	maxDepth = 64
	maxRepr  = 200
)

// Engine holds the canonicalization rules. It is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	rules map[reflect.Type]Canonicalizer
}

// New creates an engine with no custom rules.
func New() *Engine {
	return &Engine{rules: make(map[reflect.Type]Canonicalizer)}
}

// Register installs a rule for values whose dynamic type is exactly t.
func (e *Engine) Register(t reflect.Type, fn Canonicalizer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[t] = fn
}

// RegisterStruct installs a rule that hashes the exported fields of struct
// type t by name (json tag name when present). Fields tagged `hash:"-"` are
// ignored.
func (e *Engine) RegisterStruct(t reflect.Type) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e.Register(t, func(v any) (any, error) {
		rv := reflect.ValueOf(v)
		out := make(map[string]any, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("hash") == "-" {
				continue
			}
			name := f.Name
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
				name = tag
			}
			out[name] = rv.Field(i).Interface()
		}
		return out, nil
	})
}

func (e *Engine) rule(t reflect.Type) (Canonicalizer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.rules[t]
	return fn, ok
}

// Fingerprint hashes a stage identity together with its resolved arguments.
// Argument order does not matter; argument names do.
func (e *Engine) Fingerprint(id StageIdentity, args []Arg) (Result, error) {
	if id.Name == "" {
		return Result{}, fmt.Errorf("fingerprint: stage name is required")
	}

	canonArgs := make(Map, len(args))
	details := make(Details, len(args))

	for _, a := range args {
		if _, dup := details[a.Name]; dup {
			return Result{}, &HashingError{Stage: id.Qualified(), Arg: a.Name, Reason: "duplicate argument name"}
		}

		detail := ArgDetail{Index: a.Index}
		val, excl, err := e.argValue(a)
		var skip *excluded
		switch {
		case errors.As(err, &skip):
			detail.Skipped = skip.reason
			details[a.Name] = detail
			continue
		case err != nil:
			var he *HashingError
			if errors.As(err, &he) {
				he.Stage = id.Qualified()
				he.Arg = a.Name
				return Result{}, he
			}
			return Result{}, &HashingError{Stage: id.Qualified(), Arg: a.Name, Reason: err.Error()}
		}

		data, err := MarshalCanonical(val)
		if err != nil {
			return Result{}, &HashingError{Stage: id.Qualified(), Arg: a.Name, Reason: err.Error()}
		}
		detail.Repr = truncate(string(data), maxRepr)
		detail.Hash = digest(DomainArg, data)
		detail.Upstream = refNames(val, nil)
		detail.Excluded = excl

		canonArgs[a.Name] = val
		details[a.Name] = detail
	}

	payload := Map{
		"stage": Map{
			"name":   Str(id.Name),
			"module": Str(id.Module),
		},
		"args": canonArgs,
	}
	data, err := MarshalCanonical(payload)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint %s: %w", id.Qualified(), err)
	}

	return Result{Hash: digest(DomainStage, data), Details: details}, nil
}

// Canonicalize converts v under mode into the canonical value model.
// If v itself is excluded by mode (for example a float under HashAuto) the
// error names the exclusion. Excluded nested values become
// {"$excluded": kind} placeholders.
func (e *Engine) Canonicalize(v any, mode Mode) (Value, error) {
	if isNil(v) {
		return Null{}, nil
	}
	return e.convert(v, &walk{mode: mode}, "", 0)
}

func (e *Engine) argValue(a Arg) (Value, []string, error) {
	if a.Mode == HashSkip {
		return nil, nil, &excluded{reason: "skipped by hash mode"}
	}

	v := a.Value
	mode := a.Mode
	if a.Custom != nil {
		out, err := a.Custom(v)
		if err != nil {
			return nil, nil, &HashingError{Type: typeName(v), Reason: fmt.Sprintf("custom hash: %v", err)}
		}
		if out == nil {
			return nil, nil, &excluded{reason: "custom hash returned nil"}
		}
		v = out
		mode = HashInclude
	}

	if isNil(v) {
		return nil, nil, &excluded{reason: "value is nil"}
	}
	w := &walk{mode: mode}
	val, err := e.convert(v, w, "", 0)
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(w.excluded)
	return val, w.excluded, nil
}

// excluded marks a value that is deliberately left out of the hash.
type excluded struct {
	reason string
}

func (x *excluded) Error() string { return x.reason }

// walk is the state of one conversion.
type walk struct {
	mode     Mode
	excluded []string
}

// exclude leaves the value at path out of the hash. At the top level the
// whole argument is skipped; below it the value is replaced by a placeholder
// so its siblings still count.
func (w *walk) exclude(kind, path string) (Value, error) {
	reason := kind + " excluded" + at(path)
	if path == "" {
		return nil, &excluded{reason: reason}
	}
	w.excluded = append(w.excluded, reason)
	return Map{"$excluded": Str(kind)}, nil
}

func (e *Engine) convert(v any, w *walk, path string, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, &HashingError{Path: path, Type: typeName(v), Reason: "value nested too deeply (cycle?)"}
	}
	if v == nil {
		return Null{}, nil
	}

	switch val := v.(type) {
	case Value:
		return val, nil
	case Canonical:
		out, err := val.CanonicalValue()
		if err != nil {
			return nil, &HashingError{Path: path, Type: typeName(v), Reason: err.Error()}
		}
		return e.convert(out, w, path, depth+1)
	case time.Time:
		if w.mode != HashInclude {
			return w.exclude("timestamp", path)
		}
		return Str(val.UTC().Format(time.RFC3339Nano)), nil
	case *rand.Rand, *randv2.Rand, rand.Source:
		return w.exclude("random source", path)
	case []byte:
		sum := sha256.Sum256(val)
		return Map{"$bytes": Str(hex.EncodeToString(sum[:]))}, nil
	}

	if fn, ok := e.rule(reflect.TypeOf(v)); ok {
		out, err := fn(v)
		if err != nil {
			return nil, &HashingError{Path: path, Type: typeName(v), Reason: err.Error()}
		}
		return e.convert(out, w, path, depth+1)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return e.convert(rv.Elem().Interface(), w, path, depth+1)

	case reflect.String:
		return Str(rv.String()), nil

	case reflect.Bool:
		return Bool(rv.Bool()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, &HashingError{Path: path, Type: typeName(v), Reason: "unsigned value overflows int64"}
		}
		return Int(int64(u)), nil

	case reflect.Float32, reflect.Float64:
		if w.mode != HashInclude {
			return w.exclude("float", path)
		}
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &HashingError{Path: path, Type: typeName(v), Reason: "non-finite float"}
		}
		return Float(f), nil

	case reflect.Slice, reflect.Array:
		list := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := e.convert(rv.Index(i).Interface(), w, fmt.Sprintf("%s[%d]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			list[i] = elem
		}
		return list, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &HashingError{Path: path, Type: typeName(v), Reason: "map keys must be strings"}
		}
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			elem, err := e.convert(iter.Value().Interface(), w, fmt.Sprintf("%s[%q]", path, k), depth+1)
			if err != nil {
				return nil, err
			}
			m[k] = elem
		}
		return m, nil

	case reflect.Func:
		if rv.IsNil() {
			return Null{}, nil
		}
		fn := runtime.FuncForPC(rv.Pointer())
		if fn == nil {
			return nil, &HashingError{Path: path, Type: typeName(v), Reason: "function has no symbol"}
		}
		return Str("func:" + fn.Name()), nil

	case reflect.Struct:
		return nil, &HashingError{Path: path, Type: typeName(v), Reason: "no canonicalization rule registered"}
	}

	return nil, &HashingError{Path: path, Type: typeName(v), Reason: "unsupported kind " + rv.Kind().String()}
}

func refNames(v Value, acc []string) []string {
	switch val := v.(type) {
	case Ref:
		acc = append(acc, val.Name)
	case List:
		for _, elem := range val {
			acc = refNames(elem, acc)
		}
	case Map:
		for _, k := range val.SortedKeys() {
			acc = refNames(val[k], acc)
		}
	}
	return acc
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

func at(path string) string {
	if path == "" {
		return ""
	}
	return " at " + path
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
