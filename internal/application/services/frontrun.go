package services

import (
	"context"
	"fmt"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
)

// FrontRunDetector cross-checks on-chain deposits against the vetted keys
// of Lido modules, both for the current cycle's deposits and for the
// chain's full deposit history (C8).
type FrontRunDetector struct {
	keysAPI ports.KeysAPIClient
}

// NewFrontRunDetector wires the keys-index client used to confirm Lido
// ownership of pubkeys implicated in a historical front-run.
func NewFrontRunDetector(keysAPI ports.KeysAPIClient) *FrontRunDetector {
	return &FrontRunDetector{keysAPI: keysAPI}
}

// DetectOnChain intersects this cycle's deposited pubkeys with the vetted-
// unused keys of every module, keeping only deposits whose withdrawal
// credential is not Lido's and whose BLS signature is valid — those are
// front-run attempts.
func (d *FrontRunDetector) DetectOnChain(events []domain.VerifiedDepositEvent, vettedUnusedByModule map[uint32][]domain.RegistryKey, lidoWC domain.WithdrawalCredential) map[uint32][]domain.RegistryKey {
	frontRunPubkeys := make(map[domain.PubKey]struct{})
	for _, e := range events {
		if e.WithdrawalCredentials == lidoWC || !e.Valid {
			continue
		}
		frontRunPubkeys[e.Pubkey] = struct{}{}
	}

	result := make(map[uint32][]domain.RegistryKey)
	for moduleID, keys := range vettedUnusedByModule {
		for _, k := range keys {
			if _, hit := frontRunPubkeys[k.Key]; hit {
				result[moduleID] = append(result[moduleID], k)
			}
		}
	}
	return result
}

// DetectHistorical groups every Lido-WC, BLS-valid deposit by pubkey,
// keeping the earliest as the canonical Lido deposit. Any other deposit
// of the same pubkey with a non-Lido WC that precedes the canonical
// deposit is a historical front-run. If any such pubkeys exist, the
// keys-index is asked to confirm Lido ownership before declaring theft
// — this is a one-shot global flag, not per-module.
func (d *FrontRunDetector) DetectHistorical(ctx context.Context, events []domain.VerifiedDepositEvent, lidoWC domain.WithdrawalCredential) (bool, error) {
	canonical := make(map[domain.PubKey]domain.VerifiedDepositEvent)
	for _, e := range events {
		if e.WithdrawalCredentials != lidoWC || !e.Valid {
			continue
		}
		existing, ok := canonical[e.Pubkey]
		if !ok || e.Less(existing) {
			canonical[e.Pubkey] = e
		}
	}
	if len(canonical) == 0 {
		return false, nil
	}

	suspect := make(map[domain.PubKey]struct{})
	for _, e := range events {
		if e.WithdrawalCredentials == lidoWC {
			continue
		}
		lido, ok := canonical[e.Pubkey]
		if !ok {
			continue
		}
		if e.Less(lido) {
			suspect[e.Pubkey] = struct{}{}
		}
	}
	if len(suspect) == 0 {
		return false, nil
	}

	pubkeys := make([]domain.PubKey, 0, len(suspect))
	for pk := range suspect {
		pubkeys = append(pubkeys, pk)
	}

	owned, _, err := d.keysAPI.FindKeys(ctx, pubkeys)
	if err != nil {
		return false, fmt.Errorf("%w: confirming Lido ownership of suspect pubkeys: %v", domain.ErrTransient, err)
	}

	return len(owned) > 0, nil
}
