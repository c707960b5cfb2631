// Package webhook delivers transaction status reports to customer endpoints.
// Delivery is best-effort: the core never blocks on, or fails because of, a
// customer webhook.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notifier reports a transaction status change to an external endpoint.
type Notifier interface {
	Notify(ctx context.Context, url, secret string, event Event)
}

// Event is the webhook payload.
type Event struct {
	Tid    string `json:"tid"`
	Status string `json:"status"`
}

// Statuses reported to customer webhooks.
const (
	StatusAcknowledged = "acknowledged"
	StatusVerified     = "verified"
	StatusFailed       = "failed"
)

// HTTPNotifier posts JSON events, signing the body with HMAC-SHA256 when a
// secret is configured.
type HTTPNotifier struct {
	client *http.Client
}

// NewHTTPNotifier creates a notifier with the given per-delivery timeout.
func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		client: &http.Client{Timeout: timeout},
	}
}

// Notify fires the delivery in the background. Failures are logged, never
// returned.
func (n *HTTPNotifier) Notify(ctx context.Context, url, secret string, event Event) {
	if url == "" {
		return
	}
	go func() {
		if err := n.deliver(url, secret, event); err != nil {
			log.Printf("webhook delivery to %s failed: %v", url, err)
		}
	}()
}

func (n *HTTPNotifier) deliver(url, secret string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Signature", Sign(secret, payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of the payload under the secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
