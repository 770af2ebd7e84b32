package services

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/messages"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
)

// Two operators share a duplicate pubkey, both starting at stakingLimit=3.
// Operator-2's limit later rises to 4 and the newly vetted key at index 3
// is the one that collides with operator-1's — so operator-2 must be
// unvetted back to 3, not to its TotalDepositedValidators count (which is
// 0 here, since none of its vetted-unused keys have been deposited yet).
func TestHandleUnvettingPullsBackToEarliestSuspectIndex(t *testing.T) {
	bus := &fakeBus{}
	g := newTestGuardian(&fakeKeysAPI{}, &fakeDSM{}, bus, &fakeEL{})

	mo := ports.ModuleOperators{
		Module: domain.StakingModule{ID: 7, Nonce: 1},
		Operators: []domain.Operator{
			{Index: 1, StakingLimit: 3, TotalDepositedValidators: 0},
			{Index: 2, StakingLimit: 4, TotalDepositedValidators: 0},
		},
	}
	data := &domain.StakingModuleData{
		ModuleID: 7,
		DuplicatedKeys: []domain.RegistryKey{
			{OperatorIndex: 2, Index: 3},
		},
	}
	ref := domain.BlockRef{Number: 100, Hash: common.HexToHash("0xa")}

	g.handleUnvetting(context.Background(), ref, mo, data)

	if len(bus.payloads) != 1 {
		t.Fatalf("expected exactly 1 unvet message, got %d", len(bus.payloads))
	}
	payload, ok := bus.payloads[0].(messages.UnvetPayload)
	if !ok {
		t.Fatalf("expected an UnvetPayload, got %T", bus.payloads[0])
	}

	operatorIDs, vettedCounts := decodeUnvetPayload(t, payload)
	if len(operatorIDs) != 1 || operatorIDs[0] != 2 {
		t.Fatalf("expected only operator 2 to be unvetted, got %v", operatorIDs)
	}
	if vettedCounts[0] != 3 {
		t.Fatalf("expected operator 2 unvetted back to 3, got %d", vettedCounts[0])
	}
}

func decodeUnvetPayload(t *testing.T, p messages.UnvetPayload) ([]uint32, []uint64) {
	t.Helper()
	ids := common.FromHex(p.OperatorIDs)
	counts := common.FromHex(p.VettedKeysByOperator)
	if len(ids)%8 != 0 || len(counts)%16 != 0 {
		t.Fatalf("malformed unvet payload encoding")
	}
	operatorIDs := make([]uint32, len(ids)/8)
	for i := range operatorIDs {
		operatorIDs[i] = uint32(binary.BigEndian.Uint64(ids[i*8 : i*8+8]))
	}
	vettedCounts := make([]uint64, len(counts)/16)
	for i := range vettedCounts {
		vettedCounts[i] = binary.BigEndian.Uint64(counts[i*16+8 : i*16+16])
	}
	return operatorIDs, vettedCounts
}
