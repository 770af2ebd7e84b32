package blsvalidator

import (
	"testing"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

func alwaysValid(domain.PubKey, domain.Signature, domain.WithdrawalCredential) bool { return true }

func key(b byte, sig byte) domain.RegistryKey {
	var k domain.RegistryKey
	k.Key[0] = b
	k.DepositSignature[0] = sig
	return k
}

// An identical repeat call must not re-verify anything already cached.
func TestGetInvalidKeysCachesUnchangedEntries(t *testing.T) {
	v := NewWithVerifier(alwaysValid)
	var wc domain.WithdrawalCredential
	wc[0] = 0x01

	keys := []domain.RegistryKey{key(1, 1), key(2, 2), key(3, 3)}

	v.GetInvalidKeys(keys, wc)
	if got := v.VerifiedKeysForTest(); len(got) != 3 {
		t.Fatalf("first call: expected all 3 keys verified, got %d", len(got))
	}

	v.GetInvalidKeys(keys, wc)
	if got := v.VerifiedKeysForTest(); len(got) != 0 {
		t.Fatalf("repeat call: expected no re-verification, got %d", len(got))
	}
}

// Changing a single key's depositSignature must re-verify exactly that key.
func TestGetInvalidKeysRevalidatesChangedSignatureOnly(t *testing.T) {
	v := NewWithVerifier(alwaysValid)
	var wc domain.WithdrawalCredential
	wc[0] = 0x01

	keys := []domain.RegistryKey{key(1, 1), key(2, 2), key(3, 3)}
	v.GetInvalidKeys(keys, wc)

	keys[1].DepositSignature[0] = 0xFF
	v.GetInvalidKeys(keys, wc)

	got := v.VerifiedKeysForTest()
	if len(got) != 1 || got[0] != keys[1].Key {
		t.Fatalf("expected exactly the changed key to be re-verified, got %v", got)
	}
}

// Changing the withdrawal credential invalidates every cache entry, since
// the signed message depends on it.
func TestGetInvalidKeysRevalidatesAllOnWCChange(t *testing.T) {
	v := NewWithVerifier(alwaysValid)
	var wc domain.WithdrawalCredential
	wc[0] = 0x01

	keys := []domain.RegistryKey{key(1, 1), key(2, 2)}
	v.GetInvalidKeys(keys, wc)

	wc[0] = 0x02
	v.GetInvalidKeys(keys, wc)

	if got := v.VerifiedKeysForTest(); len(got) != 2 {
		t.Fatalf("expected all keys re-verified after wc change, got %d", len(got))
	}
}

func TestGetInvalidKeysReturnsInvalidSubset(t *testing.T) {
	calls := 0
	verify := func(pk domain.PubKey, sig domain.Signature, wc domain.WithdrawalCredential) bool {
		calls++
		return pk[0] != 2
	}
	v := NewWithVerifier(verify)
	var wc domain.WithdrawalCredential

	keys := []domain.RegistryKey{key(1, 1), key(2, 2), key(3, 3)}
	invalid := v.GetInvalidKeys(keys, wc)

	if len(invalid) != 1 || invalid[0].Key[0] != 2 {
		t.Fatalf("expected only key 2 invalid, got %v", invalid)
	}
}

// Keys dropped from the presented set must not linger in the cache forever.
func TestGetInvalidKeysPrunesAbsentKeys(t *testing.T) {
	v := NewWithVerifier(alwaysValid)
	var wc domain.WithdrawalCredential

	v.GetInvalidKeys([]domain.RegistryKey{key(1, 1), key(2, 2)}, wc)
	if v.cache.Len() != 2 {
		t.Fatalf("expected 2 cache entries, got %d", v.cache.Len())
	}

	v.GetInvalidKeys([]domain.RegistryKey{key(1, 1)}, wc)
	if v.cache.Len() != 1 {
		t.Fatalf("expected pruned cache to have 1 entry, got %d", v.cache.Len())
	}
}
