package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/systemshift/whereabouts/internal/platform/logger"
)

// Notifier delivers notifications to webhooks
type Notifier struct {
	httpClient  *http.Client
	maxAttempts int
	backoff     func(attempt int) time.Duration
	log         *logger.Logger
}

// NewNotifier creates a notifier making up to maxAttempts requests per
// delivery
func NewNotifier(timeout time.Duration, maxAttempts int, log *logger.Logger) *Notifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		log: log,
	}
}

// SendWebhook posts the notification to url, retrying with quadratic
// backoff until a 2xx response, the attempt limit, or ctx is done
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Whereabouts-Event", notification.Event)
		req.Header.Set("X-Whereabouts-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.log.Warn("webhook delivery attempt failed", "url", url, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Debug("webhook delivered", "url", url, "item_id", notification.ItemID)
			return nil
		}
		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		n.log.Warn("webhook delivery attempt rejected", "url", url, "attempt", attempt+1, "status", resp.StatusCode)
	}
	return lastErr
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook delivery to %s failed with status %d", e.URL, e.StatusCode)
}
