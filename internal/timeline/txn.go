package timeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/roomline/internal/ir"
)

// TxnIDGenerator mints transaction ids for local echoes that arrive without one.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TxnIDGenerator interface {
	Generate() ir.TxnID
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() ir.TxnID {
	return ir.TxnID(uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined transaction ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ir.TxnID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("t1", "t2")
//	gen.Generate() // "t1"
//	gen.Generate() // "t2"
//	gen.Generate() // panic: all transaction ids exhausted
func NewFixedGenerator(ids ...ir.TxnID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
// Panics once every id has been consumed, so a test that echoes more
// messages than it planned for fails loudly.
func (g *FixedGenerator) Generate() ir.TxnID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: all transaction ids exhausted (used %d)", len(g.ids)))
	}

	id := g.ids[g.idx]
	g.idx++
	return id
}
