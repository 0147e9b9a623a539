package gateway

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts digests to one Slack channel with the bot token.
type SlackNotifier struct {
	client  slackPoster
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier. botToken is the Bot User OAuth
// Token (xoxb-...).
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (n *SlackNotifier) Platform() string { return "slack" }

func (n *SlackNotifier) Close() error { return nil }

// Notify posts the digest as a section block with a plain-text fallback.
func (n *SlackNotifier) Notify(ctx context.Context, d Digest) error {
	body := d.Markdown("*")
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil)
	_, ts, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(d.Title, false),
		slack.MsgOptionBlocks(section),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	n.logger.Debug("slack digest posted",
		zap.String("channel", n.channel),
		zap.String("session", d.SessionID),
		zap.String("ts", ts))
	return nil
}
