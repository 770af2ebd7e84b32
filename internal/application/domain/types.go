// Package domain holds the plain data types shared across the guardian's
// decision pipeline. Types here carry no behavior tied to a specific
// adapter; they are the nouns the application and ports packages agree on.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PubKey is a 48-byte BLS12-381 public key, hex-decoded from the deposit
// contract log or the Keys-API.
type PubKey [48]byte

func (p PubKey) String() string { return "0x" + common.Bytes2Hex(p[:]) }

// Signature is a 96-byte BLS12-381 signature.
type Signature [96]byte

func (s Signature) String() string { return "0x" + common.Bytes2Hex(s[:]) }

// Signature65 is a 65-byte ECDSA recoverable signature (r || s || v), the
// kind the guardian wallet produces over EIP-191-style prefixed messages.
type Signature65 [65]byte

func (s Signature65) String() string { return "0x" + common.Bytes2Hex(s[:]) }

// WithdrawalCredential is the 32-byte field pinning a deposit to a
// withdrawal address.
type WithdrawalCredential [32]byte

func (w WithdrawalCredential) String() string { return "0x" + common.Bytes2Hex(w[:]) }

// Root is a 32-byte Merkle/SSZ root.
type Root [32]byte

func (r Root) String() string { return "0x" + common.Bytes2Hex(r[:]) }

// BlockRef identifies a block unambiguously for monotonicity checks.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

// VerifiedDepositEvent is an immutable, ordered record of a single
// DepositEvent log, with the BLS validity of its signature cached at
// ingestion time.
type VerifiedDepositEvent struct {
	BlockNumber           uint64
	BlockHash             common.Hash
	LogIndex              uint
	Pubkey                PubKey
	WithdrawalCredentials WithdrawalCredential
	AmountGwei            uint64
	Signature             Signature
	DepositCount          uint64
	DepositDataRoot       Root
	TxHash                common.Hash
	Valid                 bool
}

// Less orders events by (blockNumber, logIndex), the cache's canonical
// ordering.
func (e VerifiedDepositEvent) Less(other VerifiedDepositEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// CacheHeader tracks the inclusive block range a DepositEventCache covers.
type CacheHeader struct {
	StartBlock uint64
	EndBlock   uint64
}

// DepositEventCache is the persisted, ordered sequence of verified deposit
// events together with the range they cover.
type DepositEventCache struct {
	Headers        CacheHeader
	Data           []VerifiedDepositEvent
	LastValidEvent *VerifiedDepositEvent
}

// DepositCacheDefault is returned when no cache has been persisted yet.
func DepositCacheDefault() DepositEventCache {
	return DepositEventCache{Headers: CacheHeader{StartBlock: 0, EndBlock: 0}}
}

// RegistryKey is a signing key as reported by the Keys-API.
type RegistryKey struct {
	Key              PubKey
	DepositSignature Signature
	OperatorIndex    uint32
	Used             bool
	Index            uint32
	ModuleAddress    common.Address
	ModuleID         uint32
}

// ID uniquely identifies a registry key instance across modules/operators,
// used as a map key where (module, operator, index) identity matters
// independently of the pubkey value (duplicates share a pubkey but not an ID).
type RegistryKeyID struct {
	ModuleID      uint32
	OperatorIndex uint32
	Index         uint32
}

func (k RegistryKey) ID() RegistryKeyID {
	return RegistryKeyID{ModuleID: k.ModuleID, OperatorIndex: k.OperatorIndex, Index: k.Index}
}

// StakingModuleType enumerates the known Lido staking router module kinds.
type StakingModuleType string

const (
	ModuleTypeCuratedOnchainV1   StakingModuleType = "curated-onchain-v1"
	ModuleTypeCommunityOnchainV1 StakingModuleType = "community-onchain-v1"
	ModuleTypeSDVT               StakingModuleType = "sdvt"
)

// StakingModule describes a staking router module as reported by the
// Keys-API.
type StakingModule struct {
	ID      uint32
	Address common.Address
	Nonce   uint64
	Type    StakingModuleType
}

// Operator describes a node operator within a staking module.
type Operator struct {
	Index                     uint32
	StakingLimit              uint64
	TotalDepositedValidators  uint64
	TotalAddedValidators      uint64
	RewardAddress             common.Address
}

// VettedUnusedCount computes the vetted-but-unused key count:
//
//	vettedUnused = max(0, min(stakingLimit, totalAddedValidators) - totalDepositedValidators)
func (o Operator) VettedUnusedCount() uint64 {
	limit := o.StakingLimit
	if o.TotalAddedValidators < limit {
		limit = o.TotalAddedValidators
	}
	if limit <= o.TotalDepositedValidators {
		return 0
	}
	return limit - o.TotalDepositedValidators
}

// IsVetted reports whether a key at the given index within this operator
// falls inside the vetted window.
func (o Operator) IsVetted(keyIndex uint32) bool {
	return uint64(keyIndex) < o.StakingLimit
}

// IsVettedUnused reports whether a key is vetted and not yet deposited.
func (o Operator) IsVettedUnused(keyIndex uint32) bool {
	return o.IsVetted(keyIndex) && uint64(keyIndex) >= o.TotalDepositedValidators
}

// StakingModuleData is the per-cycle, per-module working set assembled by
// the decision pipeline.
type StakingModuleData struct {
	ModuleID             uint32
	Nonce                uint64
	BlockHash            common.Hash
	LastChangedBlockHash common.Hash
	UnusedKeys           []RegistryKey
	VettedUnusedKeys     []RegistryKey
	DuplicatedKeys       []RegistryKey
	FrontRunKeys         []RegistryKey
	InvalidKeys          []RegistryKey
}

// CanDeposit implements the module-level canDeposit predicate, excluding the
// global theft/pause flags which are evaluated by the caller against
// BlockData.
func (d StakingModuleData) CanDeposit() bool {
	return len(d.FrontRunKeys) == 0 && len(d.InvalidKeys) == 0 && len(d.DuplicatedKeys) == 0
}

// DSMVersion distinguishes the pause-message encoding branch.
type DSMVersion int

const (
	DSMVersionV2 DSMVersion = 2
	DSMVersionV3 DSMVersion = 3
)

// BlockData is the per-cycle snapshot shared by every module branch.
type BlockData struct {
	BlockNumber            uint64
	BlockHash              common.Hash
	DepositRoot            Root
	DepositedEvents        []VerifiedDepositEvent
	GuardianAddress        common.Address
	GuardianIndex          int
	LidoWC                 WithdrawalCredential
	SecurityVersion        DSMVersion
	AlreadyPausedDeposits  bool
	TheftHappened          bool
	WalletBalanceCritical  bool
}

// ContractsState is the last-seen on-chain state per module, used by C9/C10
// to gate re-signing.
type ContractsState struct {
	DepositRoot          Root
	Nonce                uint64
	BlockNumber          uint64
	LastChangedBlockHash common.Hash
}

// ResigningWindow returns which re-signing window a block falls into,
// per GUARDIAN_DEPOSIT_RESIGNING_BLOCKS.
func ResigningWindow(blockNumber uint64) uint64 {
	return blockNumber / GuardianDepositResigningBlocks
}

// Equal reports whether two contract states would gate re-signing the same
// way: identical depositRoot, nonce and lastChangedBlockHash, and the same
// re-signing window.
func (c ContractsState) Equal(other ContractsState) bool {
	return c.DepositRoot == other.DepositRoot &&
		c.Nonce == other.Nonce &&
		c.LastChangedBlockHash == other.LastChangedBlockHash &&
		ResigningWindow(c.BlockNumber) == ResigningWindow(other.BlockNumber)
}

// SigningKeyAddedEvent records a SigningKeyAdded log used by the duplicate
// detector to determine which instance of a duplicated pubkey came first.
type SigningKeyAddedEvent struct {
	ModuleAddress common.Address
	BlockNumber   uint64
	LogIndex      uint
	OperatorIndex uint32
	Pubkey        PubKey
}

// Less orders two SigningKeyAdded events by (blockNumber, logIndex), same
// block ties broken by logIndex, matching isFirstEventEarlier.
func (e SigningKeyAddedEvent) Less(other SigningKeyAddedEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// KeysAPIMeta is the consistency metadata returned alongside every
// Keys-API response.
type KeysAPIMeta struct {
	BlockNumber          uint64
	BlockHash            common.Hash
	LastChangedBlockHash common.Hash
	Timestamp            int64
}

var (
	// ErrTransient marks I/O failures (RPC, HTTP, broker, KV) that should
	// abort only the current tick and be retried next cycle.
	ErrTransient = fmt.Errorf("transient I/O error")

	// ErrIntegrityViolation marks a failed Merkle/root/cache sanity check
	//: the tick aborts without advancing lastValidEvent.
	ErrIntegrityViolation = fmt.Errorf("integrity violation")

	// ErrInconsistentState marks a mid-read mutation detected via
	// lastChangedBlockHash mismatch between two Keys-API calls.
	ErrInconsistentState = fmt.Errorf("inconsistent lastChangedBlockHash")
)
