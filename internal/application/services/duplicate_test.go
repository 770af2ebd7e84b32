package services

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

func regKey(moduleID, operatorIndex, index uint32, moduleAddr common.Address, pubkey domain.PubKey, sig domain.Signature) domain.RegistryKey {
	return domain.RegistryKey{
		Key:              pubkey,
		DepositSignature: sig,
		ModuleID:         moduleID,
		OperatorIndex:    operatorIndex,
		Index:            index,
		ModuleAddress:    moduleAddr,
	}
}

// Two operators holding the same pubkey, no SigningKeyAdded history for
// either: the lowest (moduleId, operatorIndex, index) wins and the other
// instance is flagged a duplicate.
func TestDuplicateDetectorFallsBackToLowestKeyID(t *testing.T) {
	d := NewDuplicateDetector()
	moduleAddr := common.HexToAddress("0x1")
	pubkey := domain.PubKey{0x01}
	sig := domain.Signature{0x01}

	vetted := map[uint32][]domain.RegistryKey{
		1: {regKey(1, 1, 0, moduleAddr, pubkey, sig), regKey(1, 2, 0, moduleAddr, pubkey, sig)},
	}

	result := d.Detect(vetted, nil)
	dups := result[1]
	if len(dups) != 1 {
		t.Fatalf("expected exactly 1 duplicate, got %d", len(dups))
	}
	if dups[0].OperatorIndex != 2 {
		t.Fatalf("expected operator 2's copy to be the duplicate, got operator %d", dups[0].OperatorIndex)
	}
}

// An earlier SigningKeyAdded event beats the lowest-key-ID fallback.
func TestDuplicateDetectorPrefersEarliestSigningKeyEvent(t *testing.T) {
	d := NewDuplicateDetector()
	moduleAddr := common.HexToAddress("0x1")
	pubkey := domain.PubKey{0x02}
	sig := domain.Signature{0x02}

	vetted := map[uint32][]domain.RegistryKey{
		1: {regKey(1, 1, 0, moduleAddr, pubkey, sig), regKey(1, 2, 0, moduleAddr, pubkey, sig)},
	}
	events := map[common.Address][]domain.SigningKeyAddedEvent{
		moduleAddr: {
			{ModuleAddress: moduleAddr, BlockNumber: 100, OperatorIndex: 2, Pubkey: pubkey},
			{ModuleAddress: moduleAddr, BlockNumber: 50, OperatorIndex: 1, Pubkey: pubkey},
		},
	}

	result := d.Detect(vetted, events)
	dups := result[1]
	if len(dups) != 1 || dups[0].OperatorIndex != 2 {
		t.Fatalf("expected operator 2 (later event) to be the duplicate, got %v", dups)
	}
}

// If any cross-instance signature diverges, every instance of the pubkey
// is unsafe and flagged a duplicate.
func TestDuplicateDetectorFlagsAllOnSignatureDivergence(t *testing.T) {
	d := NewDuplicateDetector()
	moduleAddr := common.HexToAddress("0x1")
	pubkey := domain.PubKey{0x03}

	vetted := map[uint32][]domain.RegistryKey{
		1: {
			regKey(1, 1, 0, moduleAddr, pubkey, domain.Signature{0x01}),
			regKey(1, 2, 0, moduleAddr, pubkey, domain.Signature{0x02}),
		},
	}

	result := d.Detect(vetted, nil)
	if len(result[1]) != 2 {
		t.Fatalf("expected both instances flagged on signature divergence, got %d", len(result[1]))
	}
}

func TestDuplicateDetectorNoDuplicatesWhenPubkeyUnique(t *testing.T) {
	d := NewDuplicateDetector()
	moduleAddr := common.HexToAddress("0x1")

	vetted := map[uint32][]domain.RegistryKey{
		1: {regKey(1, 1, 0, moduleAddr, domain.PubKey{0x01}, domain.Signature{0x01})},
	}

	result := d.Detect(vetted, nil)
	if len(result) != 0 {
		t.Fatalf("expected no duplicates for a unique pubkey, got %v", result)
	}
}
