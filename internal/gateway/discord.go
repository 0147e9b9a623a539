package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Discord rejects messages longer than this.
const discordLimit = 2000

type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier sends digests to one Discord channel over the REST API.
// The gateway websocket is never opened.
type DiscordNotifier struct {
	session   discordSender
	closer    func() error
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a notifier for channelID.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   s,
		closer:    s.Close,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (n *DiscordNotifier) Platform() string { return "discord" }

func (n *DiscordNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

// Notify sends the digest, cut to Discord's message limit.
func (n *DiscordNotifier) Notify(ctx context.Context, d Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content := truncate(d.Markdown("**"), discordLimit)
	msg, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	n.logger.Debug("discord digest sent",
		zap.String("channel", n.channelID),
		zap.String("session", d.SessionID),
		zap.String("message", msg.ID))
	return nil
}
