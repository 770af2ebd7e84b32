package services

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

func TestBlockGuardFirstBlockAlwaysProcessed(t *testing.T) {
	g := NewBlockGuard()
	if !g.NeedsProcessing(domain.BlockRef{Number: 1, Hash: common.HexToHash("0x1")}) {
		t.Fatalf("expected the first observed block to require processing")
	}
}

func TestBlockGuardRejectsSameOrEarlierBlock(t *testing.T) {
	g := NewBlockGuard()
	ref := domain.BlockRef{Number: 10, Hash: common.HexToHash("0x1")}
	g.MarkProcessed(ref)

	if g.NeedsProcessing(ref) {
		t.Fatalf("identical block must not require reprocessing")
	}
	if g.NeedsProcessing(domain.BlockRef{Number: 9, Hash: common.HexToHash("0x2")}) {
		t.Fatalf("earlier block must not require processing")
	}
}

func TestBlockGuardAcceptsNewerBlock(t *testing.T) {
	g := NewBlockGuard()
	g.MarkProcessed(domain.BlockRef{Number: 10, Hash: common.HexToHash("0x1")})

	if !g.NeedsProcessing(domain.BlockRef{Number: 11, Hash: common.HexToHash("0x2")}) {
		t.Fatalf("newer block must require processing")
	}
}
