package services

import (
	"context"
	"testing"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
)

type stubKeysAPIFind struct {
	owned []domain.RegistryKey
}

func (s *stubKeysAPIFind) GetKeys(ctx context.Context) ([]domain.RegistryKey, domain.KeysAPIMeta, error) {
	return nil, domain.KeysAPIMeta{}, nil
}
func (s *stubKeysAPIFind) GetOperators(ctx context.Context) ([]ports.ModuleOperators, domain.KeysAPIMeta, error) {
	return nil, domain.KeysAPIMeta{}, nil
}
func (s *stubKeysAPIFind) FindKeys(ctx context.Context, pubkeys []domain.PubKey) ([]domain.RegistryKey, domain.KeysAPIMeta, error) {
	return s.owned, domain.KeysAPIMeta{}, nil
}
func (s *stubKeysAPIFind) Status(ctx context.Context) (ports.StatusResponse, error) {
	return ports.StatusResponse{}, nil
}
func (s *stubKeysAPIFind) Ready(ctx context.Context) error { return nil }

func TestFrontRunDetectorOnChainFiltersByWCAndValidity(t *testing.T) {
	lidoWC := domain.WithdrawalCredential{0xaa}
	badWC := domain.WithdrawalCredential{0xbb}
	pubkey := domain.PubKey{0x01}

	events := []domain.VerifiedDepositEvent{
		{Pubkey: pubkey, WithdrawalCredentials: badWC, Valid: true},
		{Pubkey: domain.PubKey{0x02}, WithdrawalCredentials: badWC, Valid: false},
	}
	vetted := map[uint32][]domain.RegistryKey{
		1: {{Key: pubkey}, {Key: domain.PubKey{0x02}}},
	}

	d := NewFrontRunDetector(&stubKeysAPIFind{})
	result := d.DetectOnChain(events, vetted, lidoWC)

	if len(result[1]) != 1 || result[1][0].Key != pubkey {
		t.Fatalf("expected only the valid, non-Lido-WC pubkey flagged, got %v", result[1])
	}
}

func TestFrontRunDetectorHistoricalNoCanonicalNoTheft(t *testing.T) {
	d := NewFrontRunDetector(&stubKeysAPIFind{})
	badWC := domain.WithdrawalCredential{0xbb}
	events := []domain.VerifiedDepositEvent{
		{Pubkey: domain.PubKey{0x01}, WithdrawalCredentials: badWC, Valid: true, BlockNumber: 1},
	}

	theft, err := d.DetectHistorical(context.Background(), events, domain.WithdrawalCredential{0xaa})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if theft {
		t.Fatalf("expected no theft without a canonical Lido deposit")
	}
}

func TestFrontRunDetectorHistoricalEarlierBadWCIsTheft(t *testing.T) {
	lidoWC := domain.WithdrawalCredential{0xaa}
	badWC := domain.WithdrawalCredential{0xbb}
	pubkey := domain.PubKey{0x01}

	events := []domain.VerifiedDepositEvent{
		{Pubkey: pubkey, WithdrawalCredentials: badWC, Valid: true, BlockNumber: 1, LogIndex: 0},
		{Pubkey: pubkey, WithdrawalCredentials: lidoWC, Valid: true, BlockNumber: 2, LogIndex: 0},
	}

	owned := []domain.RegistryKey{{Key: pubkey}}
	d := NewFrontRunDetector(&stubKeysAPIFind{owned: owned})

	theft, err := d.DetectHistorical(context.Background(), events, lidoWC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !theft {
		t.Fatalf("expected theft to be detected")
	}
}

func TestFrontRunDetectorHistoricalLaterBadWCIsNotTheft(t *testing.T) {
	lidoWC := domain.WithdrawalCredential{0xaa}
	badWC := domain.WithdrawalCredential{0xbb}
	pubkey := domain.PubKey{0x01}

	events := []domain.VerifiedDepositEvent{
		{Pubkey: pubkey, WithdrawalCredentials: lidoWC, Valid: true, BlockNumber: 1, LogIndex: 0},
		{Pubkey: pubkey, WithdrawalCredentials: badWC, Valid: true, BlockNumber: 2, LogIndex: 0},
	}

	d := NewFrontRunDetector(&stubKeysAPIFind{})
	theft, err := d.DetectHistorical(context.Background(), events, lidoWC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if theft {
		t.Fatalf("a later non-Lido deposit must not count as theft")
	}
}
