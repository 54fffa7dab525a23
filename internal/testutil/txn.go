package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/roomline/internal/ir"
)

// SequentialTxnGenerator hands out "<prefix>-1", "<prefix>-2", ...
//
// This enables deterministic local echo keys and golden snapshot comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialTxnGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTxnGenerator creates a generator. An empty prefix means "txn".
func NewSequentialTxnGenerator(prefix string) *SequentialTxnGenerator {
	if prefix == "" {
		prefix = "txn"
	}
	return &SequentialTxnGenerator{prefix: prefix}
}

// Generate returns the next transaction id.
func (g *SequentialTxnGenerator) Generate() ir.TxnID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return ir.TxnID(fmt.Sprintf("%s-%d", g.prefix, g.n))
}
