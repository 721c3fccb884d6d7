// Package webhook delivers signed finalization events to the external
// system of record that persists the new NIP.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// EventNIPReset is the event type for a confirmed NIP reset.
const EventNIPReset = "nip_reiniciado"

// Event is the finalization payload. The receiver must treat RequestID as
// an idempotency key: a single logical event may be delivered more than
// once across retry attempts.
type Event struct {
	Evento       string    `json:"evento"`
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	CustomerID   string    `json:"customer_id"`
	VehicleID    string    `json:"vehicle_id"`
	VehicleLabel string    `json:"vehicle_label"`
	Contract     string    `json:"contract"`
	Plates       string    `json:"plates"`
	Serial       string    `json:"serial"`
	NIP          string    `json:"nip"`
}

// Config holds webhook delivery configuration.
type Config struct {
	URL      string
	Secret   string
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
}

// Notifier posts signed events to the configured receiver. Retry is
// synchronous and bounded because delivery runs inside the confirmation
// transaction while the token row is locked.
type Notifier struct {
	config Config
	logger *slog.Logger
	http   *http.Client
}

// NewNotifier creates a webhook notifier.
func NewNotifier(config Config, logger *slog.Logger) *Notifier {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Attempts == 0 {
		config.Attempts = 2
	}
	if config.Delay == 0 {
		config.Delay = 2 * time.Second
	}
	return &Notifier{
		config: config,
		logger: logger,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Deliver serializes and signs the event, then posts it with a fixed
// number of attempts. Any non-2xx response, network error or timeout
// counts as a failed attempt. The payload itself is never logged.
func (n *Notifier) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ts := strconv.FormatInt(event.Timestamp.Unix(), 10)
	signature := Sign(n.config.Secret, ts, body)

	var lastErr error
	for attempt := 1; attempt <= n.config.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(n.config.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.post(ctx, body, ts, signature)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("webhook delivery attempt failed",
			"attempt", attempt,
			"request_id", event.RequestID,
			"error", lastErr,
		)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.config.Attempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, body []byte, timestamp, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Nip-Event", EventNIPReset)
	req.Header.Set("X-Nip-Timestamp", timestamp)
	req.Header.Set("X-Nip-Signature", signature)

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature over timestamp + "." + body.
// The receiver recomputes it with the shared secret to authenticate origin
// and reject stale deliveries.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
