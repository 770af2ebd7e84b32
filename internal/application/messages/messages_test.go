package messages

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

func TestDepositDigestDeterministicAndSensitive(t *testing.T) {
	var prefix [32]byte
	prefix[0] = 0xAA
	blockHash := common.HexToHash("0x01")
	var root domain.Root
	root[0] = 0x02

	d1, err := DepositDigest(prefix, 100, blockHash, root, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := DepositDigest(prefix, 100, blockHash, root, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest not deterministic")
	}

	d3, err := DepositDigest(prefix, 101, blockHash, root, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 == d3 {
		t.Fatalf("digest did not change with blockNumber")
	}
}

func TestEncodeOperatorIDsAndVettedCounts(t *testing.T) {
	ids := EncodeOperatorIDs([]uint32{1, 2})
	if len(ids) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(ids))
	}
	if ids[7] != 1 || ids[15] != 2 {
		t.Fatalf("unexpected encoding: %x", ids)
	}

	counts := EncodeVettedCounts([]uint64{3, 4})
	if len(counts) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(counts))
	}
	if counts[15] != 3 || counts[31] != 4 {
		t.Fatalf("unexpected encoding: %x", counts)
	}
}

func TestPauseDigestsDiffer(t *testing.T) {
	var prefix [32]byte
	v2, err := PauseV2Digest(prefix, 10, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v3, err := PauseV3Digest(prefix, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 == v3 {
		t.Fatalf("pause v2 and v3 digests collided")
	}
}
