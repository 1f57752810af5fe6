package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names attached to signed webhook deliveries.
const (
	HeaderWebhookTimestamp = "X-Galleria-Timestamp"
	HeaderWebhookSignature = "X-Galleria-Signature"
)

// webhookMaxSkew bounds how old a delivery timestamp may be before a
// receiver should reject it as a possible replay.
const webhookMaxSkew = 5 * time.Minute

// WebhookSigner signs outgoing webhook payloads so receivers can verify the
// delivery originated from this marketplace and was not tampered with. The
// signature is HMAC-SHA256(secret, timestamp+"."+body) encoded as base64.
type WebhookSigner struct {
	Secret string
}

// Headers returns the headers to attach to a webhook delivery for the given
// body, stamped with the current time.
func (w *WebhookSigner) Headers(body []byte) map[string]string {
	return w.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (w *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderWebhookTimestamp: ts,
		HeaderWebhookSignature: hmacSHA256Base64([]byte(w.Secret), ts+"."+string(body)),
	}
}

// VerifyWebhook checks a received delivery against the shared secret. It
// recomputes the signature over timestamp+"."+body, compares in constant
// time, and rejects timestamps older than the replay window relative to now.
func VerifyWebhook(secret string, body []byte, tsHeader, sigHeader string, now time.Time) error {
	unixTS, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto/webhook: invalid timestamp %q: %w", tsHeader, err)
	}

	age := now.Sub(time.Unix(unixTS, 0))
	if age > webhookMaxSkew || age < -webhookMaxSkew {
		return fmt.Errorf("crypto/webhook: timestamp outside replay window (%s)", age)
	}

	want := hmacSHA256Base64([]byte(secret), tsHeader+"."+string(body))
	if !hmac.Equal([]byte(want), []byte(sigHeader)) {
		return fmt.Errorf("crypto/webhook: signature mismatch")
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (w *WebhookSigner) String() string {
	s := w.Secret
	if len(s) <= 4 {
		return "WebhookSigner{secret=****}"
	}
	return fmt.Sprintf("WebhookSigner{secret=%s****}", s[:4])
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
