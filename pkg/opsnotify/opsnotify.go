// Package opsnotify sends best-effort Slack notifications for provisioning
// failures and auto-stop sweeps. It is optional: with no bot token
// configured, every call is a silent noop (spec §6 "Slack ... optional").
package opsnotify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts ops events to a single Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty the notifier is a noop.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether this notifier will actually post to Slack.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

func (n *Notifier) post(ctx context.Context, text string) {
	if !n.IsEnabled() {
		n.logger.Debug("ops notifier disabled, skipping post", "text", text)
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting ops notification to slack", "error", err)
	}
}

// NotifyProvisionFailure reports a failed workspace provisioning attempt.
func (n *Notifier) NotifyProvisionFailure(ctx context.Context, workspaceID, workspaceName string, cause error) {
	n.post(ctx, fmt.Sprintf(":rotating_light: provisioning failed for workspace `%s` (%s): %v", workspaceName, workspaceID, cause))
}

// NotifyAutoStopSweep reports one auto-stop sweep's outcome.
func (n *Notifier) NotifyAutoStopSweep(ctx context.Context, stopped, errored int) {
	n.post(ctx, fmt.Sprintf(":zzz: auto-stop sweep: stopped %d idle workspace(s), %d error(s)", stopped, errored))
}
