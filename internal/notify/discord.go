package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kirillm/crystalbot/pkg/utils"
)

// лимиты Discord, с учетом добавляемого многоточия
const (
	discordMaxTitle       = 255
	discordMaxDescription = 4095
)

// цвета embed по типу события
var discordColors = map[string]int{
	KindDecision: 0x95A5A6,
	KindTrade:    0x2ECC71,
	KindRejected: 0xF1C40F,
	KindDegraded: 0xE67E22,
	KindError:    0xE74C3C,
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Footer      map[string]string `json:"footer,omitempty"`
	Timestamp   string            `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Discord уведомления через Discord webhook
type Discord struct {
	client *resty.Client
	url    string
	logger *utils.Logger
}

func NewDiscord(url string, timeout time.Duration, logger *utils.Logger) *Discord {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Discord{client: client, url: url, logger: logger}
}

func (d *Discord) Notify(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	title := e.Summary
	if title == "" {
		title = e.Kind
	}
	embed := discordEmbed{
		Title:       truncate(title, discordMaxTitle),
		Description: truncate(FormatEvent(e), discordMaxDescription),
		Color:       discordColors[e.Kind],
		Timestamp:   at.UTC().Format(time.RFC3339),
	}
	if e.CycleID != "" {
		embed.Footer = map[string]string{"text": "cycle " + e.CycleID}
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(discordPayload{Embeds: []discordEmbed{embed}}).
		Post(d.url)
	if err != nil {
		d.logger.Error("Discord webhook failed: %v", err)
		return fmt.Errorf("discord: %w", err)
	}
	if resp.IsError() {
		d.logger.Error("Discord webhook failed: status %d", resp.StatusCode())
		return fmt.Errorf("discord returned status: %d", resp.StatusCode())
	}
	return nil
}
