// Package chattest provides a recording in-memory chat client for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/discode-sh/discode/internal/chat"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChannelID string
	Text      string
	Files     []string
}

// Reaction is one recorded reaction change.
type Reaction struct {
	ChannelID string
	MessageID string
	From      string
	To        string
}

// Update is one recorded message edit.
type Update struct {
	ChannelID string
	MessageID string
	Text      string
}

// ThreadReply is one recorded threaded reply.
type ThreadReply struct {
	ChannelID string
	AnchorID  string
	Text      string
}

// Client records every call. It implements chat.Client plus the IDSender,
// MessageUpdater and ThreadReplier capabilities. FailSends/FailReactions
// force errors to exercise best-effort paths.
type Client struct {
	PlatformName chat.Platform

	FailSends     bool
	FailReactions bool
	FailUpdates   bool

	mu        sync.Mutex
	handler   chat.Handler
	nextID    int
	Sends     []Sent
	Reactions []Reaction
	Updates   []Update
	Replies   []ThreadReply
	Connected bool
}

// New creates a discord-flavored fake client.
func New() *Client {
	return &Client{PlatformName: chat.PlatformDiscord}
}

func (c *Client) Platform() chat.Platform {
	if c.PlatformName == "" {
		return chat.PlatformDiscord
	}
	return c.PlatformName
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connected = true
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connected = false
	return nil
}

func (c *Client) OnMessage(h chat.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Deliver feeds an inbound message to the registered handler.
func (c *Client) Deliver(ctx context.Context, msg chat.Message) error {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler registered")
	}
	return h(ctx, msg)
}

func (c *Client) SendToChannel(ctx context.Context, channelID, text string) error {
	if c.FailSends {
		return fmt.Errorf("send failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sends = append(c.Sends, Sent{ChannelID: channelID, Text: text})
	return nil
}

func (c *Client) SendToChannelWithFiles(ctx context.Context, channelID, text string, localPaths []string) error {
	if c.FailSends {
		return fmt.Errorf("send failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sends = append(c.Sends, Sent{ChannelID: channelID, Text: text, Files: localPaths})
	return nil
}

func (c *Client) SendToChannelWithID(ctx context.Context, channelID, text string) (string, error) {
	if c.FailSends {
		return "", fmt.Errorf("send failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("msg-%d", c.nextID)
	c.Sends = append(c.Sends, Sent{ChannelID: channelID, Text: text})
	return id, nil
}

func (c *Client) AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error {
	if c.FailReactions {
		return fmt.Errorf("reaction failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reactions = append(c.Reactions, Reaction{ChannelID: channelID, MessageID: messageID, To: emoji})
	return nil
}

func (c *Client) ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error {
	if c.FailReactions {
		return fmt.Errorf("reaction failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reactions = append(c.Reactions, Reaction{ChannelID: channelID, MessageID: messageID, From: fromEmoji, To: toEmoji})
	return nil
}

func (c *Client) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	if c.FailUpdates {
		return fmt.Errorf("update failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Updates = append(c.Updates, Update{ChannelID: channelID, MessageID: messageID, Text: text})
	return nil
}

func (c *Client) ReplyInThread(ctx context.Context, channelID, anchorMessageID, text string) error {
	if c.FailSends {
		return fmt.Errorf("reply failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Replies = append(c.Replies, ThreadReply{ChannelID: channelID, AnchorID: anchorMessageID, Text: text})
	return nil
}

// LastSend returns the most recent send, or false when nothing was sent.
func (c *Client) LastSend() (Sent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sends) == 0 {
		return Sent{}, false
	}
	return c.Sends[len(c.Sends)-1], true
}

// SendTexts returns all sent message texts in order.
func (c *Client) SendTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	texts := make([]string, len(c.Sends))
	for i, s := range c.Sends {
		texts[i] = s.Text
	}
	return texts
}

// LastReaction returns the most recent reaction change.
func (c *Client) LastReaction() (Reaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Reactions) == 0 {
		return Reaction{}, false
	}
	return c.Reactions[len(c.Reactions)-1], true
}

// LastUpdate returns the most recent message edit.
func (c *Client) LastUpdate() (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Updates) == 0 {
		return Update{}, false
	}
	return c.Updates[len(c.Updates)-1], true
}
