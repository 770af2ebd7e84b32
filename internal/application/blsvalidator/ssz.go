package blsvalidator

import (
	"crypto/sha256"
	"encoding/binary"
)

// merkleizeChunks implements the SSZ "merkleize" helper for a small, fixed
// number of 32-byte chunks, padding with zero chunks up to the next power
// of two and hashing pairwise up to a single root. DepositMessage and
// SigningData are both small fixed-shape containers, so a minimal
// hand-rolled merkleizer is used here instead of pulling in a general SSZ
// library (see DESIGN.md).
func merkleizeChunks(chunks [][32]byte) [32]byte {
	n := 1
	for n < len(chunks) {
		n *= 2
	}
	layer := make([][32]byte, n)
	copy(layer, chunks)
	for n > 1 {
		next := make([][32]byte, n/2)
		for i := 0; i < n/2; i++ {
			next[i] = hashPair(layer[2*i], layer[2*i+1])
		}
		layer = next
		n /= 2
	}
	if len(layer) == 0 {
		return [32]byte{}
	}
	return layer[0]
}

func hashPair(a, b [32]byte) [32]byte {
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func chunkOf(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

// bytesRoot computes the SSZ root of a fixed-length byte vector: pack into
// 32-byte chunks (zero-padding the tail) and merkleize.
func bytesRoot(b []byte) [32]byte {
	chunks := make([][32]byte, (len(b)+31)/32)
	for i := range chunks {
		end := (i + 1) * 32
		if end > len(b) {
			end = len(b)
		}
		chunks[i] = chunkOf(b[i*32 : end])
	}
	if len(chunks) == 0 {
		chunks = [][32]byte{{}}
	}
	return merkleizeChunks(chunks)
}

func uint64Chunk(v uint64) [32]byte {
	var out [32]byte
	binary.LittleEndian.PutUint64(out[:8], v)
	return out
}

// depositMessageRoot computes hash_tree_root(DepositMessage{pubkey, wc,
// amount}), the object that gets signed.
func depositMessageRoot(pubkey [48]byte, wc [32]byte, amountGwei uint64) [32]byte {
	pubkeyRoot := bytesRoot(pubkey[:])
	wcChunk := chunkOf(wc[:])
	amountChunk := uint64Chunk(amountGwei)
	return merkleizeChunks([][32]byte{pubkeyRoot, wcChunk, amountChunk})
}

// signingDataRoot computes hash_tree_root(SigningData{objectRoot, domain}),
// i.e. compute_signing_root.
func signingDataRoot(objectRoot [32]byte, domain [32]byte) [32]byte {
	return merkleizeChunks([][32]byte{objectRoot, domain})
}

// depositDomain implements domain_deposit(fork, genesis_validators_root)
// with the deposit-specific shortcut: deposits are signed with a
// domain computed from a zero fork version and a zero genesis validators
// root, so they remain valid regardless of which fork activates them.
func depositDomain() [32]byte {
	const domainTypeDeposit = 0x03000000
	var forkVersion [4]byte // GENESIS_FORK_VERSION shortcut: zero
	var genesisValidatorsRoot [32]byte

	forkDataRoot := merkleizeChunks([][32]byte{chunkOf(forkVersion[:]), genesisValidatorsRoot})

	var domain [32]byte
	binary.BigEndian.PutUint32(domain[:4], domainTypeDeposit)
	copy(domain[4:], forkDataRoot[:28])
	return domain
}

// ComputeDepositSigningRoot is the full compute_signing_root(DepositMessage,
// domain_deposit(...)) pipeline.
func ComputeDepositSigningRoot(pubkey [48]byte, wc [32]byte, amountGwei uint64) [32]byte {
	return signingDataRoot(depositMessageRoot(pubkey, wc, amountGwei), depositDomain())
}
