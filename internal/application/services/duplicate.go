package services

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// DuplicateDetector classifies vetted-unused keys into "original" vs
// "duplicate" across operators and modules (C7).
type DuplicateDetector struct{}

// NewDuplicateDetector returns a stateless detector: every call is pure
// over its arguments.
func NewDuplicateDetector() *DuplicateDetector { return &DuplicateDetector{} }

// keyInstance is one module's copy of a pubkey under consideration, along
// with its earliest known SigningKeyAdded history if any.
type keyInstance struct {
	key      domain.RegistryKey
	moduleID uint32
	hasEvent bool
	event    domain.SigningKeyAddedEvent
}

// Detect operates on the vetted-unused keys across all modules and returns
// the subset of each module's keys that are duplicates. It considers every
// key it is given; keys whose deposit signature does not verify are not
// excluded.
//
// signingKeyEvents supplies, per module address, the SigningKeyAdded
// history used to break ties on which instance of a duplicated pubkey
// came first.
func (d *DuplicateDetector) Detect(vettedUnusedByModule map[uint32][]domain.RegistryKey, signingKeyEvents map[common.Address][]domain.SigningKeyAddedEvent) map[uint32][]domain.RegistryKey {
	byPubkey := make(map[domain.PubKey][]keyInstance)
	for moduleID, keys := range vettedUnusedByModule {
		for _, k := range keys {
			inst := keyInstance{key: k, moduleID: moduleID}
			if ev, ok := findSigningKeyEvent(signingKeyEvents[k.ModuleAddress], k.OperatorIndex, k.Key); ok {
				inst.hasEvent = true
				inst.event = ev
			}
			byPubkey[k.Key] = append(byPubkey[k.Key], inst)
		}
	}

	result := make(map[uint32][]domain.RegistryKey)
	for _, instances := range byPubkey {
		if len(instances) < 2 {
			continue
		}

		if signaturesDiverge(instances) {
			// Even the canonical key has a cross-module copy signed
			// differently: no instance can be trusted.
			for _, inst := range instances {
				result[inst.moduleID] = append(result[inst.moduleID], inst.key)
			}
			continue
		}

		canonical := pickCanonical(instances)
		for i, inst := range instances {
			if i == canonical {
				continue
			}
			result[inst.moduleID] = append(result[inst.moduleID], inst.key)
		}
	}

	return result
}

func signaturesDiverge(instances []keyInstance) bool {
	first := instances[0].key.DepositSignature
	for _, inst := range instances[1:] {
		if inst.key.DepositSignature != first {
			return true
		}
	}
	return false
}

// pickCanonical returns the index of the canonical "original" instance:
// earliest SigningKeyAdded event wins; if no instance has history, the
// lowest (moduleID, operatorIndex, index) wins.
func pickCanonical(instances []keyInstance) int {
	anyHasEvent := false
	for _, inst := range instances {
		if inst.hasEvent {
			anyHasEvent = true
			break
		}
	}

	best := 0
	for i := 1; i < len(instances); i++ {
		if anyHasEvent {
			if !instances[i].hasEvent {
				continue
			}
			if !instances[best].hasEvent || instances[i].event.Less(instances[best].event) {
				best = i
			}
			continue
		}
		if lowerRegistryKeyID(instances[i].key.ID(), instances[best].key.ID()) {
			best = i
		}
	}
	return best
}

func lowerRegistryKeyID(a, b domain.RegistryKeyID) bool {
	if a.ModuleID != b.ModuleID {
		return a.ModuleID < b.ModuleID
	}
	if a.OperatorIndex != b.OperatorIndex {
		return a.OperatorIndex < b.OperatorIndex
	}
	return a.Index < b.Index
}

func findSigningKeyEvent(events []domain.SigningKeyAddedEvent, operatorIndex uint32, pubkey domain.PubKey) (domain.SigningKeyAddedEvent, bool) {
	var earliest domain.SigningKeyAddedEvent
	found := false
	for _, ev := range events {
		if ev.Pubkey != pubkey || ev.OperatorIndex != operatorIndex {
			continue
		}
		if !found || ev.Less(earliest) {
			earliest = ev
			found = true
		}
	}
	return earliest, found
}
