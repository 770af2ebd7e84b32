// Package ports declares the boundary interfaces the decision pipeline
// depends on. Every external collaborator is named opaquely
// (EL-client, keys-index client, message bus, persistent KV store, wallet
// signer, clock/scheduler) and has a port here, the KV store one per
// namespace; concrete adapters live under internal/adapters.
package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// ELClient is the opaque execution-layer provider: deposit event
// logs, SigningKeyAdded logs, deposit root reads, new-head subscription and
// raw transaction submission. Adapters may fall over across several RPC
// endpoints internally (C3).
type ELClient interface {
	FilterDepositEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.VerifiedDepositEvent, error)
	FilterSigningKeyAddedEvents(ctx context.Context, module common.Address, fromBlock, toBlock uint64) ([]domain.SigningKeyAddedEvent, error)
	DepositRootAt(ctx context.Context, blockHash common.Hash) (domain.Root, error)
	HeaderByHash(ctx context.Context, blockHash common.Hash) (*gethtypes.Header, error)
	LatestFinalizedBlock(ctx context.Context) (domain.BlockRef, error)
	LatestBlock(ctx context.Context) (domain.BlockRef, error)
	SubscribeNewHead(ctx context.Context) (<-chan *gethtypes.Header, error)
	BalanceAt(ctx context.Context, addr common.Address, blockHash common.Hash) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// KeysAPIClient is the opaque side index of Lido keys/operators.
type KeysAPIClient interface {
	GetKeys(ctx context.Context) (keys []domain.RegistryKey, meta domain.KeysAPIMeta, err error)
	GetOperators(ctx context.Context) (modules []ModuleOperators, meta domain.KeysAPIMeta, err error)
	FindKeys(ctx context.Context, pubkeys []domain.PubKey) (keys []domain.RegistryKey, meta domain.KeysAPIMeta, err error)
	Status(ctx context.Context) (StatusResponse, error)
	Ready(ctx context.Context) error
}

// ModuleOperators groups a staking module with its operator roster, as
// returned by GET /v1/operators.
type ModuleOperators struct {
	Module    domain.StakingModule
	Operators []domain.Operator
}

// StatusResponse is the shape of GET /v1/status.
type StatusResponse struct {
	ChainID          uint64
	AppVersion       string
	ElBlockSnapshot  domain.KeysAPIMeta
	ClBlockSnapshot  domain.KeysAPIMeta
}

// MessageBus is the opaque pub/sub transport: RabbitMQ/Kafka in
// production, modeled here behind a single Publish method.
type MessageBus interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// DepositEventStore persists C2's verified deposit event cache.
type DepositEventStore interface {
	GetEventsCache(ctx context.Context) (domain.DepositEventCache, error)
	InsertEventsCacheBatch(ctx context.Context, header domain.CacheHeader, events []domain.VerifiedDepositEvent) error
	SetLastValidEvent(ctx context.Context, event domain.VerifiedDepositEvent) error
}

// SigningKeyEventStore persists C5's per-module SigningKeyAdded history.
type SigningKeyEventStore interface {
	GetSigningKeyEvents(ctx context.Context, module common.Address) ([]domain.SigningKeyAddedEvent, error)
	InsertSigningKeyEvents(ctx context.Context, module common.Address, events []domain.SigningKeyAddedEvent) error
	KnownModules(ctx context.Context) ([]common.Address, error)
}

// WalletSigner is the opaque guardian signing key: the
// wallet's signing key is immutable after initialization; signatures are
// pure computations").
type WalletSigner interface {
	Address() common.Address
	SignDigest(digest [32]byte) (domain.Signature65, error)
}

// Clock is the opaque scheduler collaborator: production uses a
// ticker, tests substitute a manual clock.
type Clock interface {
	Tick() <-chan struct{}
	Stop()
}

// DSMContract is the opaque on-chain DSM binding: guardian roster,
// message prefixes, version, and the two transactions the pipeline may
// submit.
type DSMContract interface {
	Guardians(ctx context.Context, blockHash common.Hash) ([]common.Address, error)
	GuardianIndex(ctx context.Context, blockHash common.Hash, guardian common.Address) (int, error)
	AttestMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error)
	PauseMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error)
	UnvetMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error)
	Version(ctx context.Context, blockHash common.Hash) (domain.DSMVersion, error)
	IsDepositsPaused(ctx context.Context, blockHash common.Hash, moduleID uint32) (bool, error)
	SubmitPauseDeposits(ctx context.Context, blockNumber uint64, moduleID *uint32, signature domain.Signature65) error
	SubmitUnvetSigningKeys(ctx context.Context, moduleID uint32, blockNumber uint64, blockHash common.Hash, nonce uint64, operatorIDs []byte, vettedKeysByOperator []byte, signature domain.Signature65) error
}
