// Copyright 2025 James Ross
package eventbus

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSubscription delivers events over HTTP POST, signing the body
// with an HMAC-SHA256 digest of the subscription secret so receivers can
// verify authenticity.
type WebhookSubscription struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewWebhookSubscription returns a subscriber posting to url, signed with
// secret.
func NewWebhookSubscription(url, secret string, timeout time.Duration) *WebhookSubscription {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSubscription{
		URL:        url,
		Secret:     secret,
		Timeout:    timeout,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// sign returns the hex-encoded HMAC-SHA256 of body under the
// subscription's secret.
func (w *WebhookSubscription) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Publish POSTs e as JSON to the configured URL with an
// X-Queueengine-Signature header carrying the HMAC digest.
func (w *WebhookSubscription) Publish(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventbus: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("eventbus: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Queueengine-Signature", w.sign(body))

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("eventbus: deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("eventbus: webhook %s returned %d", w.URL, resp.StatusCode)
	}
	return nil
}

// Close is a no-op; WebhookSubscription holds no long-lived connection.
func (w *WebhookSubscription) Close() error { return nil }

// VerifySignature recomputes the HMAC over body under secret and compares
// it to signature in constant time. Receivers of webhook deliveries use
// this to authenticate the sender.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ Publisher = (*WebhookSubscription)(nil)
