package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
)

type fakeEL struct {
	depositRoot domain.Root
}

func (f *fakeEL) FilterDepositEvents(ctx context.Context, from, to uint64) ([]domain.VerifiedDepositEvent, error) {
	return nil, nil
}
func (f *fakeEL) FilterSigningKeyAddedEvents(ctx context.Context, module common.Address, from, to uint64) ([]domain.SigningKeyAddedEvent, error) {
	return nil, nil
}
func (f *fakeEL) DepositRootAt(ctx context.Context, blockHash common.Hash) (domain.Root, error) {
	return f.depositRoot, nil
}
func (f *fakeEL) HeaderByHash(ctx context.Context, blockHash common.Hash) (*gethtypes.Header, error) {
	return &gethtypes.Header{}, nil
}
func (f *fakeEL) LatestFinalizedBlock(ctx context.Context) (domain.BlockRef, error) {
	return domain.BlockRef{}, nil
}
func (f *fakeEL) LatestBlock(ctx context.Context) (domain.BlockRef, error) { return domain.BlockRef{}, nil }
func (f *fakeEL) SubscribeNewHead(ctx context.Context) (<-chan *gethtypes.Header, error) {
	return make(chan *gethtypes.Header), nil
}
func (f *fakeEL) BalanceAt(ctx context.Context, addr common.Address, blockHash common.Hash) (uint64, error) {
	return 0, nil
}
func (f *fakeEL) SendRawTransaction(ctx context.Context, tx *gethtypes.Transaction) error { return nil }

type fakeKeysAPI struct {
	mu         sync.Mutex
	operators  []ports.ModuleOperators
	keys       []domain.RegistryKey
	opsMeta    domain.KeysAPIMeta
	keysMeta   domain.KeysAPIMeta
	callsOps   int
	callsKeys  int
}

func (f *fakeKeysAPI) GetKeys(ctx context.Context) ([]domain.RegistryKey, domain.KeysAPIMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsKeys++
	return f.keys, f.keysMeta, nil
}
func (f *fakeKeysAPI) GetOperators(ctx context.Context) ([]ports.ModuleOperators, domain.KeysAPIMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsOps++
	return f.operators, f.opsMeta, nil
}
func (f *fakeKeysAPI) FindKeys(ctx context.Context, pubkeys []domain.PubKey) ([]domain.RegistryKey, domain.KeysAPIMeta, error) {
	return nil, domain.KeysAPIMeta{}, nil
}
func (f *fakeKeysAPI) Status(ctx context.Context) (ports.StatusResponse, error) {
	return ports.StatusResponse{}, nil
}
func (f *fakeKeysAPI) Ready(ctx context.Context) error { return nil }

type fakeDSM struct {
	pauseSubmissions atomic.Int32
	pauseDelay       time.Duration
	paused           bool
}

func (f *fakeDSM) Guardians(ctx context.Context, blockHash common.Hash) ([]common.Address, error) {
	return nil, nil
}
func (f *fakeDSM) GuardianIndex(ctx context.Context, blockHash common.Hash, guardian common.Address) (int, error) {
	return 0, nil
}
func (f *fakeDSM) AttestMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error) {
	return [32]byte{1}, nil
}
func (f *fakeDSM) PauseMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error) {
	return [32]byte{2}, nil
}
func (f *fakeDSM) UnvetMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error) {
	return [32]byte{3}, nil
}
func (f *fakeDSM) Version(ctx context.Context, blockHash common.Hash) (domain.DSMVersion, error) {
	return domain.DSMVersionV3, nil
}
func (f *fakeDSM) IsDepositsPaused(ctx context.Context, blockHash common.Hash, moduleID uint32) (bool, error) {
	return f.paused, nil
}
func (f *fakeDSM) SubmitPauseDeposits(ctx context.Context, blockNumber uint64, moduleID *uint32, signature domain.Signature65) error {
	time.Sleep(f.pauseDelay)
	f.pauseSubmissions.Add(1)
	return nil
}
func (f *fakeDSM) SubmitUnvetSigningKeys(ctx context.Context, moduleID uint32, blockNumber uint64, blockHash common.Hash, nonce uint64, operatorIDs []byte, vettedKeysByOperator []byte, signature domain.Signature65) error {
	return nil
}

type fakeSigner struct{ addr common.Address }

func (f *fakeSigner) Address() common.Address { return f.addr }
func (f *fakeSigner) SignDigest(digest [32]byte) (domain.Signature65, error) {
	var sig domain.Signature65
	sig[0] = digest[0]
	return sig, nil
}

type fakeBus struct {
	mu       sync.Mutex
	payloads []any
}

func (f *fakeBus) Publish(ctx context.Context, topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeDepositStore struct{}

func (f *fakeDepositStore) GetEventsCache(ctx context.Context) (domain.DepositEventCache, error) {
	return domain.DepositCacheDefault(), nil
}
func (f *fakeDepositStore) InsertEventsCacheBatch(ctx context.Context, header domain.CacheHeader, events []domain.VerifiedDepositEvent) error {
	return nil
}
func (f *fakeDepositStore) SetLastValidEvent(ctx context.Context, event domain.VerifiedDepositEvent) error {
	return nil
}

type fakeKeyEventStore struct{}

func (f *fakeKeyEventStore) GetSigningKeyEvents(ctx context.Context, module common.Address) ([]domain.SigningKeyAddedEvent, error) {
	return nil, nil
}
func (f *fakeKeyEventStore) InsertSigningKeyEvents(ctx context.Context, module common.Address, events []domain.SigningKeyAddedEvent) error {
	return nil
}
func (f *fakeKeyEventStore) KnownModules(ctx context.Context) ([]common.Address, error) {
	return nil, nil
}

type manualClock struct{ ch chan struct{} }

func newManualClock() *manualClock { return &manualClock{ch: make(chan struct{})} }
func (c *manualClock) Tick() <-chan struct{} { return c.ch }
func (c *manualClock) Stop()                 {}
func (c *manualClock) fire()                 { c.ch <- struct{}{} }

func newTestGuardian(keysAPI *fakeKeysAPI, dsm *fakeDSM, bus *fakeBus, el *fakeEL) *Guardian {
	return NewGuardian(el, keysAPI, dsm, &fakeSigner{addr: common.HexToAddress("0x1")}, bus, &fakeDepositStore{}, &fakeKeyEventStore{}, newManualClock(), 0, domain.WithdrawalCredential{0xaa}, "defender")
}

// An inconsistent lastChangedBlockHash between the two keys-index
// calls aborts the tick with no messages emitted.
func TestTickAbortsOnInconsistentLastChangedBlockHash(t *testing.T) {
	keysAPI := &fakeKeysAPI{
		operators: []ports.ModuleOperators{{Module: domain.StakingModule{ID: 1}}},
		opsMeta:   domain.KeysAPIMeta{BlockNumber: 100, BlockHash: common.HexToHash("0xa"), LastChangedBlockHash: common.HexToHash("0x1")},
		keysMeta:  domain.KeysAPIMeta{BlockNumber: 100, BlockHash: common.HexToHash("0xa"), LastChangedBlockHash: common.HexToHash("0x2")},
	}
	dsm := &fakeDSM{}
	bus := &fakeBus{}
	g := newTestGuardian(keysAPI, dsm, bus, &fakeEL{})

	err := g.tick(context.Background())
	if err == nil {
		t.Fatalf("expected an error from inconsistent lastChangedBlockHash")
	}
	if len(bus.payloads) != 0 {
		t.Fatalf("expected no messages published, got %d", len(bus.payloads))
	}
}

// Two overlapping pause submissions must result in exactly one
// on-chain call.
func TestPauseSubmissionIsReentrancySafe(t *testing.T) {
	dsm := &fakeDSM{pauseDelay: 50 * time.Millisecond}
	g := newTestGuardian(&fakeKeysAPI{}, dsm, &fakeBus{}, &fakeEL{})

	var wg sync.WaitGroup
	wg.Add(2)
	ref := domain.BlockRef{Number: 1}
	go func() { defer wg.Done(); g.signAndSubmitPause(context.Background(), ref, [32]byte{1}, nil) }()
	go func() { defer wg.Done(); g.signAndSubmitPause(context.Background(), ref, [32]byte{1}, nil) }()
	wg.Wait()

	if got := dsm.pauseSubmissions.Load(); got != 1 {
		t.Fatalf("expected exactly 1 on-chain pause submission, got %d", got)
	}
}

// Two consecutive ticks with identical contract state and the
// same re-signing window must emit only one deposit message.
func TestHandleCorrectKeysSkipsWithinResigningWindow(t *testing.T) {
	bus := &fakeBus{}
	g := newTestGuardian(&fakeKeysAPI{}, &fakeDSM{}, bus, &fakeEL{})

	mo := ports.ModuleOperators{Module: domain.StakingModule{ID: 1, Nonce: 5}}
	data := &domain.StakingModuleData{ModuleID: 1}
	blockData := &domain.BlockData{DepositRoot: domain.Root{0x1}}
	ref := domain.BlockRef{Number: 100, Hash: common.HexToHash("0xa")}

	g.handleCorrectKeys(context.Background(), ref, blockData, mo, data)
	ref2 := domain.BlockRef{Number: 101, Hash: common.HexToHash("0xa")}
	g.handleCorrectKeys(context.Background(), ref2, blockData, mo, data)

	if len(bus.payloads) != 1 {
		t.Fatalf("expected exactly 1 deposit message across two unchanged ticks, got %d", len(bus.payloads))
	}
}
