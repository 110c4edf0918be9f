// Package transport holds the outbound HTTP clients for the messaging
// side: the Evolution API gives us WhatsApp send, presence, and read
// receipts per connected instance.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// typingDurationMs is how long the "composing" indicator stays visible.
const typingDurationMs = 10000

// Evolution is the WhatsApp transport client. All calls are rate limited
// as a group so a burst of replies cannot trip the API's abuse limits.
type Evolution struct {
	baseURL string
	apiKey  string
	delayMs int
	limiter *rate.Limiter
	client  *http.Client
}

// NewEvolution creates the transport client. ratePerSec bounds outbound
// requests across all instances.
func NewEvolution(baseURL, apiKey string, delayMs int, ratePerSec float64) *Evolution {
	return &Evolution{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		delayMs: delayMs,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// normalizeNumber strips the WhatsApp jid suffix; the API wants the bare
// number.
func normalizeNumber(to string) string {
	if i := strings.Index(to, "@"); i >= 0 {
		return to[:i]
	}
	return to
}

// SendText delivers a text message to a user via the given instance. The
// delay option makes the recipient see a short typing pause first.
func (e *Evolution) SendText(ctx context.Context, instance, to, text string) error {
	payload := map[string]any{
		"number":  normalizeNumber(to),
		"options": map[string]any{"delay": e.delayMs},
		"text":    text,
	}
	if err := e.post(ctx, "/message/sendText/"+instance, payload); err != nil {
		return fmt.Errorf("evolution: send text: %w", err)
	}
	slog.Info("message sent", "instance", instance, "to", normalizeNumber(to), "chars", len(text))
	return nil
}

// SendTyping shows the "composing" indicator to the user. Best effort:
// a failed typing signal is logged and forgotten, the reply matters more.
func (e *Evolution) SendTyping(ctx context.Context, instance, to string) {
	payload := map[string]any{
		"number":   normalizeNumber(to),
		"delay":    typingDurationMs,
		"presence": "composing",
	}
	if err := e.post(ctx, "/chat/sendPresence/"+instance, payload); err != nil {
		slog.Warn("typing signal failed", "instance", instance, "to", normalizeNumber(to), "error", err)
	}
}

// MarkRead flags an inbound message as read on the user's device.
func (e *Evolution) MarkRead(ctx context.Context, instance, remoteJid, messageID string) error {
	payload := map[string]any{
		"readMessages": []map[string]any{
			{"remoteJid": remoteJid, "fromMe": false, "id": messageID},
		},
	}
	if err := e.post(ctx, "/chat/markMessageAsRead/"+instance, payload); err != nil {
		return fmt.Errorf("evolution: mark read: %w", err)
	}
	return nil
}

func (e *Evolution) post(ctx context.Context, path string, payload any) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
