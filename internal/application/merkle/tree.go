// Package merkle implements the incremental Merkle accumulator used by the
// beacon chain deposit contract, mirrored here so the guardian can verify
// the chain's deposit_root without re-deriving it from every historical
// deposit on each tick (C1).
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// Depth is the number of levels in the deposit contract's tree.
const Depth = domain.DepositContractTreeDepth

var zeroHashes [Depth + 1][32]byte

func init() {
	// zh[0] = 0^32, zh[i+1] = sha256(zh[i] || zh[i]).
	for i := 0; i < Depth; i++ {
		zeroHashes[i+1] = hashPair(zeroHashes[i], zeroHashes[i])
	}
}

func hashPair(a, b [32]byte) [32]byte {
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Tree is the 32-level incremental Merkle accumulator.
type Tree struct {
	branch    [Depth][32]byte
	nodeCount uint64
}

// New returns an empty tree, equivalent to the deposit contract at
// nodeCount == 0.
func New() *Tree {
	return &Tree{}
}

// Insert appends a 32-byte leaf, following the deposit contract's
// incremental algorithm: walk up from the bottom, parking the leaf in the
// first empty branch slot and hashing pairs above it otherwise.
func (t *Tree) Insert(leaf [32]byte) {
	t.nodeCount++
	size := t.nodeCount
	node := leaf
	for h := 0; h < Depth; h++ {
		if size&1 == 1 {
			t.branch[h] = node
			return
		}
		node = hashPair(t.branch[h], node)
		size >>= 1
	}
	// size never reaches 2^32 in practice; reaching here means the tree
	// depth was exceeded, which the reference contract itself forbids.
	panic("merkle: tree depth exceeded")
}

// Root recomputes the tree root by combining the live branch entries with
// the precomputed zero hashes for the empty subtrees above them, then
// mixes in nodeCount as the deposit contract does.
func (t *Tree) Root() [32]byte {
	node := zeroHashes[0]
	size := t.nodeCount
	for h := 0; h < Depth; h++ {
		if (size>>uint(h))&1 == 1 {
			node = hashPair(t.branch[h], node)
		} else {
			node = hashPair(node, zeroHashes[h])
		}
	}
	var countBytes [32]byte
	binary.LittleEndian.PutUint64(countBytes[:8], t.nodeCount)
	return hashPair(node, countBytes)
}

// NodeCount returns the number of leaves inserted so far.
func (t *Tree) NodeCount() uint64 { return t.nodeCount }

// Clone deep-copies the branch slots so that mutating the clone's backing
// arrays can never alias-corrupt the original.
func (t *Tree) Clone() *Tree {
	clone := &Tree{nodeCount: t.nodeCount}
	for i := range t.branch {
		clone.branch[i] = t.branch[i]
	}
	return clone
}

// MutateBranchForTest exposes a single branch byte for clone-isolation
// testing; production code never calls this.
func (t *Tree) MutateBranchForTest(level, offset int, value byte) {
	t.branch[level][offset] = value
}

// BranchByteForTest reads back a single branch byte for clone-isolation
// testing.
func (t *Tree) BranchByteForTest(level, offset int) byte {
	return t.branch[level][offset]
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func rightPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// FormDepositNode computes the deposit contract's deposit_data_root for a
// single deposit:
//
//	sha256( sha256(pubkey_pad64 || wc) || sha256(amount_LE_8B_pad32 || sha256(signature_pad128)) )
func FormDepositNode(wc domain.WithdrawalCredential, pubkey domain.PubKey, signature domain.Signature, amountGwei uint64) [32]byte {
	pubkeyRoot := sha256Concat(rightPad(pubkey[:], 64), wc[:])

	var amountLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], amountGwei)

	sigPad128 := sha256Sum(rightPad(signature[:], 128))
	amountRoot := sha256Concat(rightPad(amountLE[:], 32), sigPad128[:])

	return sha256Concat(pubkeyRoot[:], amountRoot[:])
}

func sha256Sum(b []byte) [32]byte {
	h := sha256.New()
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func sha256Concat(a, b []byte) [32]byte {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ParseHexLeaf decodes a hex-encoded deposit_data_root, rejecting malformed
// input.
func ParseHexLeaf(hexStr string) ([32]byte, error) {
	b, err := hex.DecodeString(trimHexPrefix(hexStr))
	if err != nil {
		return [32]byte{}, fmt.Errorf("merkle: malformed hex leaf %q: %w", hexStr, err)
	}
	if len(b) != 32 {
		return [32]byte{}, fmt.Errorf("merkle: leaf %q has length %d, want 32", hexStr, len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
