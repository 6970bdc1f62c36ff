package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/discode-sh/discode/internal/chat"
)

// consoleClient is the development stand-in for a real Discord or Slack
// client. Outbound traffic is written to the log; there is no inbound
// message source. Production deployments supply a concrete platform client
// to bridge.New instead.
type consoleClient struct {
	logger *slog.Logger

	mu      sync.Mutex
	handler chat.Handler
	nextID  int
}

func newConsoleClient(logger *slog.Logger) *consoleClient {
	return &consoleClient{logger: logger}
}

func (c *consoleClient) Platform() chat.Platform { return chat.PlatformDiscord }

func (c *consoleClient) Connect(ctx context.Context) error {
	c.logger.Info("Console chat client connected (outbound messages are logged)")
	return nil
}

func (c *consoleClient) Disconnect() error { return nil }

func (c *consoleClient) OnMessage(h chat.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *consoleClient) SendToChannel(ctx context.Context, channelID, text string) error {
	c.logger.Info("chat send", "channel", channelID, "text", text)
	return nil
}

func (c *consoleClient) SendToChannelWithFiles(ctx context.Context, channelID, text string, localPaths []string) error {
	c.logger.Info("chat send with files", "channel", channelID, "text", text, "files", localPaths)
	return nil
}

func (c *consoleClient) SendToChannelWithID(ctx context.Context, channelID, text string) (string, error) {
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("console-%d", c.nextID)
	c.mu.Unlock()

	c.logger.Info("chat send", "channel", channelID, "id", id, "text", text)
	return id, nil
}

func (c *consoleClient) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	c.logger.Info("chat update", "channel", channelID, "message", messageID, "text", text)
	return nil
}

func (c *consoleClient) ReplyInThread(ctx context.Context, channelID, anchorMessageID, text string) error {
	c.logger.Info("chat thread reply", "channel", channelID, "anchor", anchorMessageID, "text", text)
	return nil
}

func (c *consoleClient) AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error {
	c.logger.Info("chat reaction", "channel", channelID, "message", messageID, "emoji", emoji)
	return nil
}

func (c *consoleClient) ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error {
	c.logger.Info("chat reaction replaced", "channel", channelID, "message", messageID, "from", fromEmoji, "to", toEmoji)
	return nil
}
