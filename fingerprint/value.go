package fingerprint

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the canonical value model.
// Only the types declared in this file implement it.
type Value interface {
	canonicalValue()
}

// Null stands for a nil nested inside a slice, map or struct. A nil
// top-level argument is skipped instead.
type Null struct{}

func (Null) canonicalValue() {}

// Str is a string value.
type Str string

func (Str) canonicalValue() {}

// Int is an integer value. Unsigned values above MaxInt64 are rejected.
type Int int64

func (Int) canonicalValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) canonicalValue() {}

// Float is only produced for arguments hashed with HashInclude.
// It serializes as {"$float": "<shortest repr>"}.
type Float float64

func (Float) canonicalValue() {}

// List is an ordered sequence.
type List []Value

func (List) canonicalValue() {}

// Map is an unordered string-keyed mapping. Use SortedKeys for iteration.
type Map map[string]Value

func (Map) canonicalValue() {}

// Ref stands in for an upstream artifact. Only the hash is serialized.
type Ref struct {
	Name string
	Hash Hash
}

func (Ref) canonicalValue() {}

// SortedKeys returns the keys in RFC 8785 order (UTF-16 code units).
// Go string comparison is UTF-8 byte order, which differs above U+FFFF.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
