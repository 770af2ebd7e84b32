// Package signer implements ports.WalletSigner over an in-process ECDSA
// private key: the guardian's own signing identity, distinct from whatever
// key the EL-client RPC endpoint uses to relay transactions.
package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// Wallet holds a guardian's ECDSA key pair in memory.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewFromHex loads a guardian wallet from a hex-encoded private key (with
// or without the 0x prefix).
func NewFromHex(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Address returns the guardian's signing address.
func (w *Wallet) Address() common.Address { return w.address }

// PrivateKey exposes the underlying key for adapters (the DSM contract
// client) that must sign full transactions rather than bare digests.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey { return w.key }

// SignDigest produces a 65-byte recoverable ECDSA signature over a
// pre-hashed 32-byte digest. Signing is a pure computation; the key
// never changes after startup.
func (w *Wallet) SignDigest(digest [32]byte) (domain.Signature65, error) {
	var out domain.Signature65
	sig, err := crypto.Sign(digest[:], w.key)
	if err != nil {
		return out, fmt.Errorf("signer: signing digest: %w", err)
	}
	copy(out[:], sig)
	return out, nil
}
