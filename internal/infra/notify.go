package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tradeguard/internal/domain"
)

// WebhookNotifier posts operator alerts for intents automation gave up on.
// With no URL configured it degrades to a log line, so the pipeline never
// drops an escalation silently.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier creates a notifier targeting the operator webhook.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With("module", "notifier"),
	}
}

type operatorAlert struct {
	Event  string             `json:"event"`
	Intent domain.TradeIntent `json:"intent"`
	SentAt time.Time          `json:"sent_at"`
}

// ReconciliationExhausted surfaces an intent that needs manual resolution.
func (n *WebhookNotifier) ReconciliationExhausted(ctx context.Context, intent domain.TradeIntent) error {
	n.logger.Error("Reconciliation exhausted, operator action required",
		slog.String("intent_id", intent.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("state", string(intent.State)),
		slog.String("order_ref", intent.OrderRef),
	)

	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(operatorAlert{
		Event:  "reconciliation_exhausted",
		Intent: intent,
		SentAt: time.Now(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("operator webhook status %d", resp.StatusCode)
	}
	return nil
}
