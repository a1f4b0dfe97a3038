// Package alerting fans watchtower and settlement alerts out to the
// configured notification channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/pkg/logger"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Event is one alert-worthy occurrence, usually a failed channel
// defense or settlement.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	ChannelID  string
	TxHash     string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier delivers events over one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events to every registered notifier.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers each event to all notifiers and joins their
// failures.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a dispatcher over the given notifiers.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify broadcasts the event.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender sends a rendered alert mail.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier delivers alerts by mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify renders and sends the mail. A misconfigured notifier logs and
// skips instead of failing the dispatch.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping alert", slog.String("channel_id", event.ChannelID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("time: %s\nchannel: %s\ntx: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.ChannelID, event.TxHash, event.Code, event.Message)
	if len(event.Metadata) > 0 {
		content += "\ndetails:\n"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("- %s: %s\n", k, v)
		}
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SlackSender posts a message to a Slack channel.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier delivers alerts to Slack.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify posts the alert message.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping alert", slog.String("channel_id", event.ChannelID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s (channel %s)", event.Severity, event.Code, event.Message, event.ChannelID)
	return n.Sender.Send(ctx, n.ChannelID, content)
}

// WebhookSender posts a JSON payload to an operator endpoint.
type WebhookSender interface {
	Send(ctx context.Context, payload map[string]string) error
}

// WebhookNotifier delivers alerts to a generic webhook.
type WebhookNotifier struct {
	Sender WebhookSender
}

func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify posts the alert payload.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("webhook notifier not configured, skipping alert", slog.String("channel_id", event.ChannelID))
		return nil
	}
	payload := map[string]string{
		"code":        string(event.Code),
		"severity":    string(event.Severity),
		"message":     event.Message,
		"channel_id":  event.ChannelID,
		"tx_hash":     event.TxHash,
		"occurred_at": event.OccurredAt.Format(time.RFC3339),
	}
	for k, v := range event.Metadata {
		payload["meta_"+k] = v
	}
	return n.Sender.Send(ctx, payload)
}
