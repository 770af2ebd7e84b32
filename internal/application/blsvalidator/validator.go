// Package blsvalidator verifies BLS12-381 deposit signatures and caches
// the verdict per public key so repeat verification of the same
// (pubkey, signature, withdrawal credential) triple is free (C6).
package blsvalidator

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	blst "github.com/supranational/blst/bindings/go"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// cacheSize bounds the validator's pubkey cache well above any realistic
// single operator's key count, so active keys never get evicted under
// normal operation; eviction only bites runaway key sets.
const cacheSize = 65536

type cacheEntry struct {
	signature domain.Signature
	wc        domain.WithdrawalCredential
	valid     bool
}

// Validator verifies deposit-message BLS signatures and caches the
// pass/fail result keyed by pubkey, invalidating an entry whenever its
// (signature, wc) pair changes.
type Validator struct {
	mu    sync.Mutex
	cache *lru.Cache[domain.PubKey, cacheEntry]

	verify func(pubkey domain.PubKey, signature domain.Signature, wc domain.WithdrawalCredential) bool

	// verifiedKeys lets tests observe exactly which keys were handed to the
	// underlying verifier on the most recent call.
	verifiedKeys []domain.PubKey
}

// New returns an empty validator cache backed by the real BLS12-381
// verifier.
func New() *Validator {
	return newValidator(verifyDepositSignature)
}

// NewWithVerifier returns a validator backed by a caller-supplied verifier,
// for tests that want to observe cache behavior without real BLS key
// material.
func NewWithVerifier(verify func(pubkey domain.PubKey, signature domain.Signature, wc domain.WithdrawalCredential) bool) *Validator {
	return newValidator(verify)
}

func newValidator(verify func(pubkey domain.PubKey, signature domain.Signature, wc domain.WithdrawalCredential) bool) *Validator {
	cache, err := lru.New[domain.PubKey, cacheEntry](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(err)
	}
	return &Validator{cache: cache, verify: verify}
}

// GetInvalidKeys validates every key's deposit signature against lidoWC and
// returns the subset whose signature does not verify.
//
// A key is revalidated only if its cached (depositSignature, wc) differs
// from the current one; lidoWC changing invalidates every entry, since the
// signed message itself depends on the withdrawal credential.
func (v *Validator) GetInvalidKeys(keys []domain.RegistryKey, lidoWC domain.WithdrawalCredential) []domain.RegistryKey {
	v.mu.Lock()
	defer v.mu.Unlock()

	var invalid []domain.RegistryKey
	v.verifiedKeys = nil
	seen := make(map[domain.PubKey]struct{}, len(keys))
	for _, key := range keys {
		seen[key.Key] = struct{}{}
		entry, ok := v.cache.Get(key.Key)
		if ok && entry.signature == key.DepositSignature && entry.wc == lidoWC {
			if !entry.valid {
				invalid = append(invalid, key)
			}
			continue
		}

		v.verifiedKeys = append(v.verifiedKeys, key.Key)
		valid := v.verify(key.Key, key.DepositSignature, lidoWC)
		v.cache.Add(key.Key, cacheEntry{signature: key.DepositSignature, wc: lidoWC, valid: valid})
		if !valid {
			invalid = append(invalid, key)
		}
	}

	// Drop cache entries for keys no longer presented; relying on LRU
	// eviction alone would let stale entries for rotated-out keys survive
	// indefinitely under cacheSize.
	for _, pk := range v.cache.Keys() {
		if _, ok := seen[pk]; !ok {
			v.cache.Remove(pk)
		}
	}

	return invalid
}

// VerifiedKeysForTest exposes which pubkeys were actually sent to the
// verifier on the most recent GetInvalidKeys call.
func (v *Validator) VerifiedKeysForTest() []domain.PubKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.verifiedKeys
}

func verifyDepositSignature(pubkey domain.PubKey, signature domain.Signature, wc domain.WithdrawalCredential) bool {
	root := ComputeDepositSigningRoot(pubkey, wc, domain.DepositAmountGwei)

	pk := new(blst.P1Affine).Uncompress(pubkey[:])
	if pk == nil || !pk.KeyValidate() {
		return false
	}
	sig := new(blst.P2Affine).Uncompress(signature[:])
	if sig == nil {
		return false
	}
	return sig.Verify(true, pk, true, root[:], dst)
}

// dst is the BLS signature domain separation tag used throughout the
// consensus layer for deposit-message signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSZ_RO_POP_")

// ErrInvalidPubkeyLength is returned by helpers that decode raw pubkey
// bytes before they reach the verifier.
var ErrInvalidPubkeyLength = fmt.Errorf("blsvalidator: public key must be 48 bytes")
