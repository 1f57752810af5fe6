package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/galleria-labs/galleria/internal/crypto"
)

// Event types the marketplace emits. Operators choose which ones are
// forwarded via the notify.events config key.
const (
	EventListingSettled = "listing_settled"
	EventOfferingBid    = "offering_bid"
	EventGroupCreated   = "group_created"
	EventError          = "error"
)

// WebhookSender delivers notifications as signed JSON POSTs to an
// operator-supplied endpoint. Each delivery carries an HMAC signature header
// so the receiver can authenticate the payload.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender for the given endpoint. If secret
// is non-empty, deliveries are signed.
func NewWebhookSender(url, secret string) *WebhookSender {
	var signer *crypto.WebhookSigner
	if secret != "" {
		signer = &crypto.WebhookSigner{Secret: secret}
	}
	return &WebhookSender{
		url:    url,
		signer: signer,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification as a JSON document. The body is stable so
// receivers can verify the signature over the exact bytes received.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.signer != nil {
		for k, v := range w.signer.Headers(body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
