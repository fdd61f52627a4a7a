package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazz-dev/reachprobe/internal/prober"
)

// Webhook POSTs a JSON payload per transition.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a Sender posting to url.
func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type webhookPayload struct {
	Status           string `json:"status"`
	PreviousStatus   string `json:"previous_status"`
	At               string `json:"at"`
	LastConnected    string `json:"last_connected,omitempty"`
	LastDisconnected string `json:"last_disconnected,omitempty"`
	Source           string `json:"source"`
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ev prober.Event) error {
	payload := webhookPayload{
		Status:           string(ev.Kind),
		PreviousStatus:   string(previous(ev.Kind)),
		At:               formatTime(ev.At),
		LastConnected:    formatTime(ev.State.LastConnected),
		LastDisconnected: formatTime(ev.State.LastDisconnected),
		Source:           "reachprobe",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to %s: %w", w.url, err)
	}
	defer resp.Body.Close()
	// Drain so the keep-alive connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
