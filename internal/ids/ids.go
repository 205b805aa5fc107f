// Package ids generates identifiers for correlation headers, bulk operations
// and seeded development records.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique identifiers.
// Implemented by UUIDv7 (production) and Fixed / Sequence (tests).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 strings.
//
// The embedded timestamp makes correlation ids in server logs sort by the
// time the request was issued.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the random source fails.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Fixed returns predetermined ids in order.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order and panics once
// they are exhausted.
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// Generate returns the next predetermined id.
func (g *Fixed) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("ids.Fixed: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Sequence returns prefix-1, prefix-2, ... without limit.
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
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// OrUUIDv7 returns g, or UUIDv7 when g is nil.
func OrUUIDv7(g Generator) Generator {
	if g == nil {
		return UUIDv7{}
	}
	return g
}
