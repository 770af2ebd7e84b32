package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/merkle"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
	"github.com/lidofinance/guardian-daemon/internal/logger"
	"github.com/lidofinance/guardian-daemon/internal/metrics"
)

// IntegrityChecker owns the running deposit Merkle tree and reconciles it
// against the on-chain deposit_root at both the finalized and latest tags
// (C4). The tree is never shared mutably outside this type.
type IntegrityChecker struct {
	el     ports.ELClient
	tree   *merkle.Tree
	seeded bool
}

// NewIntegrityChecker returns a checker with an empty tree, covering no
// blocks yet.
func NewIntegrityChecker(el ports.ELClient) *IntegrityChecker {
	return &IntegrityChecker{el: el, tree: merkle.New()}
}

// Seed inserts the persisted cache's events into the running tree exactly
// once. The tree is never persisted itself, only the events are, so the
// first tick after startup must rebuild it from whatever the store already
// covers; every tick after that sees the same events again in cache.Data,
// and must not re-insert them, since they were already folded in via
// AddEventGroupToIndex(fresh) when they first arrived.
func (c *IntegrityChecker) Seed(events []domain.VerifiedDepositEvent) {
	if c.seeded {
		return
	}
	c.AddEventGroupToIndex(events)
	c.seeded = true
}

// VerifyCacheBlock rejects a cache whose recorded endBlock lags an RPC
// regression: if the store claims to cover blocks past currentBlock, the
// provider went backwards and the cycle must abort.
func (c *IntegrityChecker) VerifyCacheBlock(cache domain.DepositEventCache, currentBlock uint64) bool {
	return cache.Headers.EndBlock <= currentBlock
}

// AddEventGroupToIndex inserts a deposit event group's leaves into the
// running tree in (blockNumber, logIndex) order.
func (c *IntegrityChecker) AddEventGroupToIndex(events []domain.VerifiedDepositEvent) {
	ordered := make([]domain.VerifiedDepositEvent, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	for _, e := range ordered {
		leaf := merkle.FormDepositNode(e.WithdrawalCredentials, e.Pubkey, e.Signature, e.AmountGwei)
		c.tree.Insert(leaf)
	}
}

// VerifyUpdatedEvents reconciles the running tree's root against
// get_deposit_root at the finalized block hash. A mismatch is an
// integrity violation: the caller must not advance lastValidEvent.
func (c *IntegrityChecker) VerifyUpdatedEvents(ctx context.Context, finalizedBlockHash common.Hash) error {
	contractRoot, err := c.el.DepositRootAt(ctx, finalizedBlockHash)
	if err != nil {
		return fmt.Errorf("%w: deposit root at finalized block: %v", domain.ErrTransient, err)
	}

	treeRoot := c.tree.Root()
	if domain.Root(treeRoot) != contractRoot {
		metrics.IntegrityViolationsTotal.WithLabelValues("finalized").Inc()
		logger.Error("integrity check failed: tree root %s != contract root %s at finalized block %s",
			domain.Root(treeRoot), contractRoot, finalizedBlockHash)
		return domain.ErrIntegrityViolation
	}
	return nil
}

// VerifyFreshEvents clones the running tree, applies freshEvents on the
// clone, and compares the result against get_deposit_root at the latest
// block hash — without mutating the indexed tree.
func (c *IntegrityChecker) VerifyFreshEvents(ctx context.Context, latestBlockHash common.Hash, freshEvents []domain.VerifiedDepositEvent) error {
	clone := c.tree.Clone()

	ordered := make([]domain.VerifiedDepositEvent, len(freshEvents))
	copy(ordered, freshEvents)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	for _, e := range ordered {
		leaf := merkle.FormDepositNode(e.WithdrawalCredentials, e.Pubkey, e.Signature, e.AmountGwei)
		clone.Insert(leaf)
	}

	contractRoot, err := c.el.DepositRootAt(ctx, latestBlockHash)
	if err != nil {
		return fmt.Errorf("%w: deposit root at latest block: %v", domain.ErrTransient, err)
	}

	if domain.Root(clone.Root()) != contractRoot {
		metrics.IntegrityViolationsTotal.WithLabelValues("fresh").Inc()
		logger.Error("integrity check failed: fresh-applied tree root != contract root at latest block %s", latestBlockHash)
		return domain.ErrIntegrityViolation
	}
	return nil
}

// Root returns the running tree's current root, for diagnostics.
func (c *IntegrityChecker) Root() domain.Root {
	return domain.Root(c.tree.Root())
}
