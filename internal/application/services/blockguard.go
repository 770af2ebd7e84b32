package services

import (
	"sync"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// BlockGuard tracks the last block the guardian fully processed and
// decides whether a newly observed block warrants another tick (C9).
// It is updated only after a tick completes every step without
// aborting.
type BlockGuard struct {
	mu   sync.Mutex
	last domain.BlockRef
}

// NewBlockGuard returns a guard with no prior state: the very first
// observed block is always processed.
func NewBlockGuard() *BlockGuard {
	return &BlockGuard{}
}

// NeedsProcessing reports whether block ref warrants a new tick: it must
// be strictly newer than the last processed block and not equal to it by
// hash.
func (g *BlockGuard) NeedsProcessing(ref domain.BlockRef) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ref.Number <= g.last.Number {
		return false
	}
	if ref.Hash == g.last.Hash {
		return false
	}
	return true
}

// MarkProcessed records ref as the last fully processed block. Call only
// after a tick completes every step of the decision pipeline successfully.
func (g *BlockGuard) MarkProcessed(ref domain.BlockRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = ref
}

// LastProcessed returns the last block ref marked processed.
func (g *BlockGuard) LastProcessed() domain.BlockRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
