package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kirillm/crystalbot/pkg/utils"
)

type webhookPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      Event  `json:"data"`
}

// Webhook POST события на произвольный HTTP адрес
type Webhook struct {
	client *resty.Client
	url    string
	logger *utils.Logger
}

func NewWebhook(url string, timeout time.Duration, logger *utils.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Webhook{client: client, url: url, logger: logger}
}

func (w *Webhook) Notify(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Event:     e.Kind,
			Timestamp: at.UTC().Format(time.RFC3339Nano),
			Data:      e,
		}).
		Post(w.url)
	if err != nil {
		w.logger.Error("Webhook failed: %v", err)
		return fmt.Errorf("webhook %s: %w", w.url, err)
	}
	if resp.IsError() {
		w.logger.Error("Webhook failed: status %d", resp.StatusCode())
		return fmt.Errorf("webhook %s: status %d", w.url, resp.StatusCode())
	}
	return nil
}
