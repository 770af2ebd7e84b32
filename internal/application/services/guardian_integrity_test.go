package services

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/merkle"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
)

// scriptedEL serves a mutable, test-controlled set of deposit events and
// computes DepositRootAt as the true Merkle root over all of them, the way
// the real deposit contract would.
type scriptedEL struct {
	fakeEL
	mu     sync.Mutex
	events []domain.VerifiedDepositEvent
}

func (s *scriptedEL) FilterDepositEvents(ctx context.Context, from, to uint64) ([]domain.VerifiedDepositEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VerifiedDepositEvent
	for _, e := range s.events {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *scriptedEL) DepositRootAt(ctx context.Context, blockHash common.Hash) (domain.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := make([]domain.VerifiedDepositEvent, len(s.events))
	copy(ordered, s.events)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Less(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	tree := merkle.New()
	for _, e := range ordered {
		tree.Insert(merkle.FormDepositNode(e.WithdrawalCredentials, e.Pubkey, e.Signature, e.AmountGwei))
	}
	return domain.Root(tree.Root()), nil
}

func (s *scriptedEL) LatestFinalizedBlock(ctx context.Context) (domain.BlockRef, error) {
	return domain.BlockRef{}, nil
}

func (s *scriptedEL) addEvent(e domain.VerifiedDepositEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// statefulDepositStore actually persists across calls, unlike fakeDepositStore,
// so a second tick() sees whatever the first tick() wrote.
type statefulDepositStore struct {
	mu    sync.Mutex
	cache domain.DepositEventCache
}

func (s *statefulDepositStore) GetEventsCache(ctx context.Context) (domain.DepositEventCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache, nil
}

func (s *statefulDepositStore) InsertEventsCacheBatch(ctx context.Context, header domain.CacheHeader, events []domain.VerifiedDepositEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Headers = header
	s.cache.Data = append(s.cache.Data, events...)
	return nil
}

func (s *statefulDepositStore) SetLastValidEvent(ctx context.Context, event domain.VerifiedDepositEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.LastValidEvent = &event
	return nil
}

// A second tick that finds the first tick's events already sitting in the
// persisted cache must not re-insert them into the running tree: this is
// exactly the scenario that the cache re-seeding had to get right.
func TestTickTwiceWithPersistedCacheDoesNotDoubleCountEvents(t *testing.T) {
	el := &scriptedEL{}
	store := &statefulDepositStore{}
	keysAPI := &fakeKeysAPI{
		opsMeta:  domain.KeysAPIMeta{BlockNumber: 100, BlockHash: common.HexToHash("0xa"), LastChangedBlockHash: common.HexToHash("0x1")},
		keysMeta: domain.KeysAPIMeta{BlockNumber: 100, BlockHash: common.HexToHash("0xa"), LastChangedBlockHash: common.HexToHash("0x1")},
	}
	dsm := &fakeDSM{}
	bus := &fakeBus{}

	g := NewGuardian(el, keysAPI, dsm, &fakeSigner{addr: common.HexToAddress("0x1")}, bus, store, &fakeKeyEventStore{}, newManualClock(), 0, domain.WithdrawalCredential{0xaa}, "defender")

	el.addEvent(depositEvent(10, 0, 0x01))
	if err := g.tick(context.Background()); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}

	keysAPI.opsMeta = domain.KeysAPIMeta{BlockNumber: 200, BlockHash: common.HexToHash("0xb"), LastChangedBlockHash: common.HexToHash("0x2")}
	keysAPI.keysMeta = domain.KeysAPIMeta{BlockNumber: 200, BlockHash: common.HexToHash("0xb"), LastChangedBlockHash: common.HexToHash("0x2")}
	el.addEvent(depositEvent(150, 0, 0x02))

	if err := g.tick(context.Background()); err != nil {
		t.Fatalf("second tick failed (cache re-seeding likely double-counted events): %v", err)
	}

	wantRoot, err := el.DepositRootAt(context.Background(), common.Hash{})
	if err != nil {
		t.Fatalf("computing expected root: %v", err)
	}
	if g.Integrity.Root() != wantRoot {
		t.Fatalf("tree root %s does not match contract root %s after two ticks", g.Integrity.Root(), wantRoot)
	}
}

var _ ports.ELClient = (*scriptedEL)(nil)
