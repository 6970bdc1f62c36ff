// Package chat defines the chat-platform contract the bridge consumes.
//
// Concrete Discord/Slack clients live outside the core; the bridge only
// depends on these interfaces. Optional platform features (message edits,
// thread replies) are modeled as capability interfaces so callers branch on
// a type assertion instead of a nil method.
package chat

import (
	"context"
	"strings"
)

// Platform identifies the chat platform a client speaks.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformSlack   Platform = "slack"
)

// Attachment is an inbound file attachment on a chat message.
type Attachment struct {
	FileName string
	URL      string
	Size     int64
}

// Message is an inbound chat message routed to an agent.
type Message struct {
	AgentType   string
	Content     string
	ProjectName string
	ChannelID   string
	MessageID   string
	InstanceID  string
	Attachments []Attachment
}

// Handler processes one inbound chat message.
type Handler func(ctx context.Context, msg Message) error

// Client is the required surface of a chat-platform client.
type Client interface {
	Platform() Platform
	Connect(ctx context.Context) error
	Disconnect() error

	// OnMessage registers the single inbound-message callback.
	OnMessage(h Handler)

	SendToChannel(ctx context.Context, channelID, text string) error
	SendToChannelWithFiles(ctx context.Context, channelID, text string, localPaths []string) error

	AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error
	ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error
}

// IDSender is the optional capability to send a message and learn its id.
type IDSender interface {
	SendToChannelWithID(ctx context.Context, channelID, text string) (string, error)
}

// MessageUpdater is the optional capability to edit a sent message.
type MessageUpdater interface {
	UpdateMessage(ctx context.Context, channelID, messageID, text string) error
}

// ThreadReplier is the optional capability to reply in a thread anchored at
// an existing message.
type ThreadReplier interface {
	ReplyInThread(ctx context.Context, channelID, anchorMessageID, text string) error
}

// ThreadReplierWithID is ThreadReplier returning the reply's message id.
type ThreadReplierWithID interface {
	ReplyInThreadWithID(ctx context.Context, channelID, anchorMessageID, text string) (string, error)
}

// AgentChannelConfig describes one channel to create for a project.
type AgentChannelConfig struct {
	AgentType  string
	InstanceID string
}

// ChannelCreator is the optional capability used by onboarding to create
// per-agent channels. The core never calls it; it is part of the contract
// so external clients implement one surface.
type ChannelCreator interface {
	CreateAgentChannels(ctx context.Context, guildID, projectName string, configs []AgentChannelConfig, customName string, instanceIDs []string) (map[string]string, error)
}

// ChunkLimit returns the per-message character budget for a platform.
func ChunkLimit(p Platform) int {
	if p == PlatformSlack {
		return 3900
	}
	return 1900
}

// SplitMessage splits text into platform-sized chunks, preferring line
// boundaries. Empty chunks are dropped.
func SplitMessage(p Platform, text string) []string {
	limit := ChunkLimit(p)
	var chunks []string

	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= limit {
			chunks = append(chunks, remaining)
			break
		}

		cut := limit
		if idx := strings.LastIndex(remaining[:limit], "\n"); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, remaining[:cut])
		remaining = strings.TrimPrefix(remaining[cut:], "\n")
	}

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

// ClampForPlatform trims text to the platform limit, keeping the tail and
// prefixing a truncation marker when anything was dropped.
func ClampForPlatform(p Platform, text string) string {
	limit := ChunkLimit(p)
	if len(text) <= limit {
		return text
	}

	const prefix = "...(truncated)\n"
	keep := limit - len(prefix)
	if keep < 0 {
		keep = 0
	}
	return prefix + text[len(text)-keep:]
}
