package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookNotifier POSTs events as JSON to a generic HTTP endpoint.
// Network errors and 5xx responses are retried; 4xx responses are not.
type WebhookNotifier struct {
	url    string
	client *http.Client

	// MaxRetryTime bounds the retries of one Send.
	MaxRetryTime  time.Duration
	RetryInterval time.Duration
}

type webhookPayload struct {
	Event  Event     `json:"event"`
	Sound  bool      `json:"sound"`
	SentAt time.Time `json:"sent_at"`
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:           url,
		client:        &http.Client{Timeout: 10 * time.Second},
		MaxRetryTime:  15 * time.Second,
		RetryInterval: 500 * time.Millisecond,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{Event: ev, Sound: !ev.Silent, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	attempts := 0
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.RetryInterval
	b.MaxElapsedTime = w.MaxRetryTime
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("webhook: event %s after %d attempts: %w", ev.ID, attempts, err)
	}

	log.Printf("[webhook] sent %s event %s", ev.Severity, ev.ID)
	return nil
}
