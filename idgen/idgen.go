// Package idgen generates row identifiers for the metadata store.
package idgen

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique string ids.
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 ids, so run and stage rows sort by
// creation time.
//
// It is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a hyphenated UUIDv7.
//
// Panics if the random source fails.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Fixed returns predetermined ids, for tests with golden output.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order.
//
//	gen := NewFixed("run-1", "stage-1")
//	gen.Generate() // "run-1"
//	gen.Generate() // "stage-1"
//	gen.Generate() // panic: all ids consumed
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// Generate returns the next id. It panics once every id has been used, so a
// test that writes more rows than expected fails loudly.
func (g *Fixed) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("idgen.Fixed: all ids consumed")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Sequence generates prefix-1, prefix-2, ... without limit.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a counting generator.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *Sequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}
