// Package discord posts change events to a Discord channel through a
// webhook, one embed per event.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/bwmarrin/discordgo"
)

// ErrInvalidWebhookURL is returned by New when the URL is not a Discord
// webhook URL of the form https://discord.com/api/webhooks/{id}/{token}.
var ErrInvalidWebhookURL = errors.New("invalid discord webhook url")

const (
	colorIncrease = 0x2ecc71
	colorDecrease = 0xe74c3c
	colorActivity = 0x3498db
)

type sink struct {
	session   *discordgo.Session
	webhookID string
	token     string
	username  string
	explorer  string
}

type config struct {
	username string
	explorer string
}

// Option customizes the sink.
type Option func(*config)

// WithUsername overrides the webhook display name.
func WithUsername(name string) Option {
	return func(c *config) {
		c.username = name
	}
}

// WithExplorerURL links each embed to "{explorer}/address/{address}".
func WithExplorerURL(explorer string) Option {
	return func(c *config) {
		c.explorer = strings.TrimSuffix(explorer, "/")
	}
}

// New returns a sink posting to webhookURL.
func New(webhookURL string, opts ...Option) (*sink, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, err
	}

	cfg := config{username: "addresswatch"}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &sink{
		session:   session,
		webhookID: id,
		token:     token,
		username:  cfg.username,
		explorer:  cfg.explorer,
	}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidWebhookURL, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[len(parts)-3] != "webhooks" {
		return "", "", ErrInvalidWebhookURL
	}

	id, token = parts[len(parts)-2], parts[len(parts)-1]
	if id == "" || token == "" {
		return "", "", ErrInvalidWebhookURL
	}
	return id, token, nil
}

func (s *sink) Name() string { return "discord" }

func (s *sink) Publish(ctx context.Context, event addrstate.ChangeEvent) error {
	params := &discordgo.WebhookParams{
		Username: s.username,
		Embeds:   []*discordgo.MessageEmbed{s.embed(event)},
	}

	if _, err := s.session.WebhookExecute(s.webhookID, s.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("execute webhook: %w", err)
	}
	return nil
}

func (s *sink) embed(event addrstate.ChangeEvent) *discordgo.MessageEmbed {
	subject := event.Address
	if event.Label != "" {
		subject = event.Label + " (" + event.Address + ")"
	}

	embed := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Description: subject,
		Timestamp:   event.DetectedAt.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: event.ID},
	}
	if s.explorer != "" {
		embed.URL = s.explorer + "/address/" + event.Address
	}

	switch event.Kind {
	case addrstate.KindBalanceIncrease:
		embed.Title = fmt.Sprintf("%s balance increased", event.Asset)
		embed.Color = colorIncrease
		embed.Fields = amountFields(event, "+")
	case addrstate.KindBalanceDecrease:
		embed.Title = fmt.Sprintf("%s balance decreased", event.Asset)
		embed.Color = colorDecrease
		embed.Fields = amountFields(event, "-")
	default:
		embed.Title = "New activity"
		embed.Color = colorActivity
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Transactions", Value: fmt.Sprintf("%s → %s", event.Before, event.After), Inline: true},
		}
	}

	return embed
}

func amountFields(event addrstate.ChangeEvent, sign string) []*discordgo.MessageEmbedField {
	return []*discordgo.MessageEmbedField{
		{Name: "Before", Value: event.Before.String() + " " + string(event.Asset), Inline: true},
		{Name: "After", Value: event.After.String() + " " + string(event.Asset), Inline: true},
		{Name: "Change", Value: sign + event.Delta.String() + " " + string(event.Asset), Inline: true},
	}
}
