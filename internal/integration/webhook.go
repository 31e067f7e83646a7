package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
)

// HTTPStatusError reports a non-2xx response from a webhook sink.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("webhook %s: unexpected status %d", e.URL, e.StatusCode)
}

// WebhookNotifier POSTs explain cards as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier with a per-request timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies the sink in pipeline logs.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Send delivers one card. The tenant travels in a header so a shared
// sink can demultiplex.
func (w *WebhookNotifier) Send(ctx context.Context, tenantID string, card model.ExplainCard) error {
	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card %s: %w", card.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meshdrift-Tenant", tenantID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{URL: w.url, StatusCode: resp.StatusCode}
	}
	return nil
}

// LogNotifier writes cards to the process log. It is the default sink
// when no webhook is configured.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Name identifies the sink in pipeline logs.
func (l *LogNotifier) Name() string { return "log" }

// Send logs the card summary line.
func (l *LogNotifier) Send(_ context.Context, tenantID string, card model.ExplainCard) error {
	logPrintf("[notify] tenant=%s severity=%s score=%d %s", tenantID, card.Severity, card.RiskScore, card.Title)
	return nil
}
