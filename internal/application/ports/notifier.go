package ports

import "context"

// AlertNotifier is the opaque operator-facing alerting channel:
// human-readable notifications for events severe enough to page an
// operator, distinct from MessageBus's machine-readable protocol messages.
type AlertNotifier interface {
	NotifyTheftDetected(ctx context.Context, blockNumber uint64) error
	NotifyPauseSubmitted(ctx context.Context, moduleID *uint32, blockNumber uint64) error
	NotifyWalletBalanceCritical(ctx context.Context, balanceWei uint64) error
	NotifyIntegrityViolation(ctx context.Context, reason string) error
}
