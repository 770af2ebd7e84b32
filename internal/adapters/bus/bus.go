// Package bus implements ports.MessageBus as an HTTP webhook publisher,
// the same POST-a-JSON-body shape the teacher's notifier adapter uses to
// reach its own external service. Production runs RabbitMQ/Kafka
// behind this port; no such broker client exists anywhere in the example
// corpus, so an HTTP webhook is the closest grounded substitute).
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// WebhookBus posts every published payload as a JSON body to BaseURL/topic.
type WebhookBus struct {
	BaseURL string
	http    *http.Client
}

// New builds a WebhookBus; baseURL must not have a trailing slash.
func New(baseURL string) *WebhookBus {
	return &WebhookBus{BaseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

// Publish posts payload to BaseURL/topic.
func (b *WebhookBus) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s", b.BaseURL, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create message bus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to publish message: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: message bus rejected publish with status %d", domain.ErrTransient, resp.StatusCode)
	}
	return nil
}
