// Package connector delivers host notifications to external services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/events"
)

const (
	colourInfo    = 0x00FF00
	colourWarning = 0xFFAA00
	colourError   = 0xFF0000
)

// WebhookNotifier posts selected game events to a chat webhook as embeds.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	footer string
	client *http.Client
	now    func() time.Time
}

// Embed is one message card.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is a name/value row of an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small print under an Embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

type webhookMessage struct {
	Embeds []Embed `json:"embeds"`
}

// NewWebhookNotifier creates the notifier and subscribes it to the events
// enabled in the config. It returns nil when no URL is configured.
func NewWebhookNotifier(cfg *config.Config, eventBus *events.EventBus) *WebhookNotifier {
	if cfg.Webhook.URL == "" {
		return nil
	}
	wn := &WebhookNotifier{
		cfg:    cfg.Webhook,
		footer: cfg.GetHost().Name,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}

	if wn.cfg.NotifyDesync {
		eventBus.Subscribe(events.EventDesync, "webhook.desync", wn.onDesync)
	}
	if wn.cfg.NotifyAbandoned {
		eventBus.Subscribe(events.EventLobbyAbandoned, "webhook.abandoned", wn.onAbandoned)
	}
	if wn.cfg.NotifyGameOver {
		eventBus.Subscribe(events.EventGameOver, "webhook.gameover", wn.onGameOver)
	}
	eventBus.Subscribe(events.EventNotify, "webhook.notify", wn.onNotify)
	return wn
}

// Send posts one embed.
func (wn *WebhookNotifier) Send(ctx context.Context, embed Embed) error {
	if embed.Timestamp == "" {
		embed.Timestamp = wn.now().UTC().Format(time.RFC3339)
	}
	if embed.Footer == nil && wn.footer != "" {
		embed.Footer = &EmbedFooter{Text: wn.footer}
	}

	jsonData, err := json.Marshal(webhookMessage{Embeds: []Embed{embed}})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", embed.Title).Msg("webhook notification sent")
	return nil
}

func (wn *WebhookNotifier) onDesync(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DesyncPayload)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(payload.Checksums))
	for name := range payload.Checksums {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]EmbedField, 0, len(names))
	for _, name := range names {
		fields = append(fields, EmbedField{Name: name, Value: fmt.Sprintf("%08X", payload.Checksums[name]), Inline: true})
	}
	return wn.Send(ctx, Embed{
		Title:       "Desync",
		Description: fmt.Sprintf("Game [%s] desynced.", payload.GameName),
		Color:       colourError,
		Fields:      fields,
	})
}

func (wn *WebhookNotifier) onAbandoned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.GamePayload)
	if !ok {
		return nil
	}
	return wn.Send(ctx, Embed{
		Title:       "Lobby abandoned",
		Description: fmt.Sprintf("Game [%s] was unhosted after the owner left.", payload.GameName),
		Color:       colourWarning,
		Fields: []EmbedField{
			{Name: "Owner", Value: orNone(payload.Owner), Inline: true},
			{Name: "Players", Value: orNone(strings.Join(payload.Players, ", ")), Inline: true},
		},
	})
}

func (wn *WebhookNotifier) onGameOver(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.GameOverPayload)
	if !ok {
		return nil
	}
	fields := []EmbedField{
		{Name: "Duration", Value: payload.Duration.Truncate(time.Second).String(), Inline: true},
		{Name: "Winner", Value: winnerName(payload.Winner), Inline: true},
	}
	for _, p := range payload.Players {
		fields = append(fields, EmbedField{
			Name:  p.Name,
			Value: fmt.Sprintf("team %d, %s", p.Team+1, orNone(p.Left)),
		})
	}
	return wn.Send(ctx, Embed{
		Title:       "Game over",
		Description: fmt.Sprintf("Game [%s] on %s finished.", payload.GameName, payload.MapPath),
		Color:       colourInfo,
		Fields:      fields,
	})
}

func (wn *WebhookNotifier) onNotify(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifyPayload)
	if !ok {
		return nil
	}
	colour := colourInfo
	switch payload.Level {
	case "error":
		colour = colourError
	case "warning":
		colour = colourWarning
	}
	return wn.Send(ctx, Embed{Title: payload.Title, Description: payload.Message, Color: colour})
}

func winnerName(w int) string {
	switch w {
	case 1:
		return "Sentinel"
	case 2:
		return "Scourge"
	}
	return "unknown"
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
