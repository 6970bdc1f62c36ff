// Package pending tracks the lifecycle of user prompts awaiting an agent
// response. Outcome is reflected back to the originating chat message as a
// reaction: hourglass while pending, check on completion, cross on error.
package pending

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/discode-sh/discode/internal/chat"
	"github.com/discode-sh/discode/internal/state"
)

// Reactions placed on the originating message.
const (
	ReactionPending   = "⏳"
	ReactionCompleted = "✅"
	ReactionError     = "❌"
)

// completedTTL is how long completed entries remain readable so late
// stop-hooks can still find their channel and anchor message.
const completedTTL = 30 * time.Second

// maxPromptPreview caps the prompt text echoed into the start message.
const maxPromptPreview = 500

// Entry is one in-flight (or recently completed) prompt.
type Entry struct {
	ChannelID      string
	MessageID      string
	StartMessageID string
	HookActive     bool
	PromptPreview  string
	CompletedAt    time.Time
}

// Tracker owns the pending and recently-completed maps. All operations are
// safe for concurrent use.
type Tracker struct {
	client chat.Client
	logger *slog.Logger

	mu        sync.Mutex
	active    map[string]*Entry
	completed map[string]*Entry
	timers    map[string]*time.Timer

	ttl time.Duration
}

// New creates a tracker posting reactions through client.
func New(client chat.Client, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client:    client,
		logger:    logger,
		active:    make(map[string]*Entry),
		completed: make(map[string]*Entry),
		timers:    make(map[string]*time.Timer),
		ttl:       completedTTL,
	}
}

// SetCompletedTTL overrides the recently-completed retention. Used by tests.
func (t *Tracker) SetCompletedTTL(d time.Duration) {
	t.mu.Lock()
	t.ttl = d
	t.mu.Unlock()
}

func key(project, agentType, instanceID string) string {
	return state.PendingKey(project, state.InstanceKey(instanceID, agentType))
}

// MarkPending registers a fresh prompt and reacts with the hourglass.
// Any recently-completed entry for the same key is evicted.
func (t *Tracker) MarkPending(ctx context.Context, project, agentType, channelID, messageID, instanceID string) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	delete(t.completed, k)
	if timer, ok := t.timers[k]; ok {
		timer.Stop()
		delete(t.timers, k)
	}
	t.active[k] = &Entry{ChannelID: channelID, MessageID: messageID}
	t.mu.Unlock()

	if err := t.client.AddReactionToMessage(ctx, channelID, messageID, ReactionPending); err != nil {
		t.logger.Warn("Failed to add pending reaction", "key", k, "error", err)
	}
}

// EnsurePending creates an entry with no originating message when none is
// active. No reaction is placed; there is nothing to react to.
func (t *Tracker) EnsurePending(project, agentType, channelID, instanceID string) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[k]; ok {
		return
	}
	t.active[k] = &Entry{ChannelID: channelID}
}

// SetPromptPreview stores the prompt text for a later start message.
func (t *Tracker) SetPromptPreview(project, agentType, preview, instanceID string) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.active[k]; ok {
		entry.PromptPreview = preview
	}
}

// EnsureStartMessage posts the start-of-turn anchor message carrying the
// prompt preview and records its id for threading. Returns the anchor id,
// empty when none was produced. Requires a chat client that can return
// message ids.
func (t *Tracker) EnsureStartMessage(ctx context.Context, project, agentType, instanceID, promptText string) string {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	entry, ok := t.active[k]
	if !ok || entry.StartMessageID != "" {
		var id string
		if ok {
			id = entry.StartMessageID
		}
		t.mu.Unlock()
		return id
	}
	text := promptText
	if text == "" {
		text = entry.PromptPreview
	}
	channelID := entry.ChannelID
	t.mu.Unlock()

	if text == "" {
		return ""
	}

	sender, ok := t.client.(chat.IDSender)
	if !ok {
		return ""
	}

	if len(text) > maxPromptPreview {
		text = text[:maxPromptPreview] + "..."
	}

	id, err := sender.SendToChannelWithID(ctx, channelID, "📝 Prompt: "+text)
	if err != nil {
		t.logger.Warn("Failed to send start message", "key", k, "error", err)
		return ""
	}

	t.mu.Lock()
	if entry, ok := t.active[k]; ok && entry.StartMessageID == "" {
		entry.StartMessageID = id
	}
	t.mu.Unlock()
	return id
}

// SetHookActive flags the active entry as hook-driven, suppressing the
// buffer fallback.
func (t *Tracker) SetHookActive(project, agentType, instanceID string) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.active[k]; ok {
		entry.HookActive = true
	}
}

// IsHookActive reports the hook flag for the active entry.
func (t *Tracker) IsHookActive(project, agentType, instanceID string) bool {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.active[k]; ok {
		return entry.HookActive
	}
	return false
}

// HasPending reports whether an active entry exists.
func (t *Tracker) HasPending(project, agentType, instanceID string) bool {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.active[k]
	return ok
}

// GetPending returns the active entry, falling back to recently-completed
// so a late stop-hook can still thread onto its anchor.
func (t *Tracker) GetPending(project, agentType, instanceID string) (Entry, bool) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.active[k]; ok {
		return *entry, true
	}
	if entry, ok := t.completed[k]; ok {
		return *entry, true
	}
	return Entry{}, false
}

// MarkCompleted swaps the pending reaction for a check mark and moves the
// entry to the recently-completed map.
func (t *Tracker) MarkCompleted(ctx context.Context, project, agentType, instanceID string) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	entry, ok := t.active[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, k)
	entry.CompletedAt = time.Now()
	t.completed[k] = entry

	if timer, exists := t.timers[k]; exists {
		timer.Stop()
	}
	t.timers[k] = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		delete(t.completed, k)
		delete(t.timers, k)
		t.mu.Unlock()
	})
	channelID, messageID := entry.ChannelID, entry.MessageID
	t.mu.Unlock()

	if messageID != "" {
		if err := t.client.ReplaceOwnReactionOnMessage(ctx, channelID, messageID, ReactionPending, ReactionCompleted); err != nil {
			t.logger.Warn("Failed to set completed reaction", "key", k, "error", err)
		}
	}
}

// MarkError swaps the pending reaction for a cross and deletes the entry
// outright; errored turns are not cached.
func (t *Tracker) MarkError(ctx context.Context, project, agentType, instanceID string) {
	k := key(project, agentType, instanceID)

	t.mu.Lock()
	entry, ok := t.active[k]
	if ok {
		delete(t.active, k)
	}
	t.mu.Unlock()

	if !ok || entry.MessageID == "" {
		return
	}
	if err := t.client.ReplaceOwnReactionOnMessage(ctx, entry.ChannelID, entry.MessageID, ReactionPending, ReactionError); err != nil {
		t.logger.Warn("Failed to set error reaction", "key", k, "error", err)
	}
}
