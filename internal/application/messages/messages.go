// Package messages builds the keccak256 digests the guardian signs over,
// per the DSM contract's ABI-tuple encodings. No I/O lives here: signing and
// broadcasting are adapter concerns (C11).
package messages

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)

	depositArgs = abi.Arguments{
		{Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type}, {Type: uint256Type}, {Type: uint256Type},
	}
	pauseV2Args = abi.Arguments{
		{Type: bytes32Type}, {Type: uint256Type}, {Type: uint256Type},
	}
	pauseV3Args = abi.Arguments{
		{Type: bytes32Type}, {Type: uint256Type},
	}
	unvetArgs = abi.Arguments{
		{Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: bytesType}, {Type: bytesType},
	}
)

// DepositDigest builds the keccak256 digest for a deposit-allow attestation
//: (prefix, blockNumber, blockHash, depositRoot, stakingModuleId, keysOpIndex).
func DepositDigest(prefix [32]byte, blockNumber uint64, blockHash common.Hash, depositRoot domain.Root, moduleID uint32, keysOpIndex uint64) ([32]byte, error) {
	packed, err := depositArgs.Pack(
		prefix,
		new(big.Int).SetUint64(blockNumber),
		blockHash,
		common.Hash(depositRoot),
		new(big.Int).SetUint64(uint64(moduleID)),
		new(big.Int).SetUint64(keysOpIndex),
	)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// PauseV2Digest builds the per-module pause digest used when the DSM is
// below protocol version 3: (prefix, blockNumber, stakingModuleId).
func PauseV2Digest(prefix [32]byte, blockNumber uint64, moduleID uint32) ([32]byte, error) {
	packed, err := pauseV2Args.Pack(
		prefix,
		new(big.Int).SetUint64(blockNumber),
		new(big.Int).SetUint64(uint64(moduleID)),
	)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// PauseV3Digest builds the global pause digest used from DSM protocol
// version 3 onward: (prefix, blockNumber).
func PauseV3Digest(prefix [32]byte, blockNumber uint64) ([32]byte, error) {
	packed, err := pauseV3Args.Pack(prefix, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// UnvetDigest builds the unvet digest:
// (prefix, blockNumber, blockHash, stakingModuleId, nonce, operatorIds, vettedKeysByOperator).
func UnvetDigest(prefix [32]byte, blockNumber uint64, blockHash common.Hash, moduleID uint32, nonce uint64, operatorIDs, vettedKeysByOperator []byte) ([32]byte, error) {
	packed, err := unvetArgs.Pack(
		prefix,
		new(big.Int).SetUint64(blockNumber),
		blockHash,
		new(big.Int).SetUint64(uint64(moduleID)),
		new(big.Int).SetUint64(nonce),
		operatorIDs,
		vettedKeysByOperator,
	)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// EncodeOperatorIDs packs operator indices as 8-byte big-endian
// concatenation, the wire shape expected by unvetSigningKeys.
func EncodeOperatorIDs(ids []uint32) []byte {
	out := make([]byte, 0, len(ids)*8)
	for _, id := range ids {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(id))
		out = append(out, b[:]...)
	}
	return out
}

// EncodeVettedCounts packs new vetted-key counts as 16-byte big-endian
// concatenation, one per operator, in the same order as EncodeOperatorIDs.
func EncodeVettedCounts(counts []uint64) []byte {
	out := make([]byte, 0, len(counts)*16)
	for _, c := range counts {
		var b [16]byte
		binary.BigEndian.PutUint64(b[8:], c)
		out = append(out, b[:]...)
	}
	return out
}
