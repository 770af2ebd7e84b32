// Package notifier implements ports.AlertNotifier as an HTTP webhook, the
// same POST-a-JSON-body shape the teacher used to reach its DAppNode
// notification service, repurposed here for operator-facing guardian
// alerts (theft, pause, critical wallet balance, integrity violations).
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Category string

const Guardian Category = "lido-guardian"

type Priority string

const (
	Info     Priority = "info"
	High     Priority = "high"
	Critical Priority = "critical"
)

type Status string

const (
	Triggered Status = "triggered"
	Resolved  Status = "resolved"
)

// NotificationPayload is the wire shape POSTed to BaseURL/api/v1/notifications.
type NotificationPayload struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
	IsBanner bool     `json:"isBanner"`
}

// Notifier implements ports.AlertNotifier.
type Notifier struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Notifier; baseURL must not have a trailing slash.
func New(baseURL string) *Notifier {
	return &Notifier{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 3 * time.Second}}
}

func (n *Notifier) send(ctx context.Context, payload NotificationPayload) error {
	url := fmt.Sprintf("%s/api/v1/notifications", n.BaseURL)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert rejected with status: %s", resp.Status)
	}
	return nil
}

// NotifyTheftDetected fires when a historical front-run is confirmed
// against Lido's withdrawal credential.
func (n *Notifier) NotifyTheftDetected(ctx context.Context, blockNumber uint64) error {
	return n.send(ctx, NotificationPayload{
		Title:    "Deposit front-run detected",
		Body:     fmt.Sprintf("A non-Lido deposit preceded a Lido deposit to the same pubkey at block %d.", blockNumber),
		Category: Guardian,
		Status:   Triggered,
		Priority: Critical,
		IsBanner: true,
	})
}

// NotifyPauseSubmitted fires after the guardian successfully broadcasts a
// pauseDeposits transaction.
func (n *Notifier) NotifyPauseSubmitted(ctx context.Context, moduleID *uint32, blockNumber uint64) error {
	scope := "globally"
	if moduleID != nil {
		scope = fmt.Sprintf("for module %d", *moduleID)
	}
	return n.send(ctx, NotificationPayload{
		Title:    "Deposits paused",
		Body:     fmt.Sprintf("Guardian submitted a pause transaction %s at block %d.", scope, blockNumber),
		Category: Guardian,
		Status:   Triggered,
		Priority: Critical,
		IsBanner: true,
	})
}

// NotifyWalletBalanceCritical fires when the guardian wallet's balance
// drops below its configured critical threshold.
func (n *Notifier) NotifyWalletBalanceCritical(ctx context.Context, balanceWei uint64) error {
	return n.send(ctx, NotificationPayload{
		Title:    "Guardian wallet balance critical",
		Body:     fmt.Sprintf("Guardian wallet balance is %d wei, below the configured critical threshold.", balanceWei),
		Category: Guardian,
		Status:   Triggered,
		Priority: High,
	})
}

// NotifyIntegrityViolation fires when a deposit-tree integrity check fails.
func (n *Notifier) NotifyIntegrityViolation(ctx context.Context, reason string) error {
	return n.send(ctx, NotificationPayload{
		Title:    "Deposit tree integrity violation",
		Body:     reason,
		Category: Guardian,
		Status:   Triggered,
		Priority: Critical,
		IsBanner: true,
	})
}
