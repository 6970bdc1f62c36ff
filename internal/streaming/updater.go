// Package streaming edits a single status message in place as agent
// activity arrives, debouncing chat-platform edits.
package streaming

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/discode-sh/discode/internal/chat"
)

// DefaultDebounce is the delay between the last append and the edit.
const DefaultDebounce = 750 * time.Millisecond

type entry struct {
	channelID    string
	messageID    string
	currentText  string
	historyLines []string

	timer     *time.Timer
	flushDone chan struct{}
}

// Updater maintains one streaming status message per instance key.
type Updater struct {
	client   chat.Client
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an updater editing messages through client.
func New(client chat.Client, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		client:   client,
		logger:   logger,
		debounce: DefaultDebounce,
		entries:  make(map[string]*entry),
	}
}

// SetDebounce overrides the flush debounce. Used by tests.
func (u *Updater) SetDebounce(d time.Duration) {
	u.mu.Lock()
	u.debounce = d
	u.mu.Unlock()
}

// Start begins a streaming entry for key, replacing any previous one.
func (u *Updater) Start(key, channelID, messageID string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if prev, ok := u.entries[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	u.entries[key] = &entry{channelID: channelID, messageID: messageID}
}

// MessageID returns the current entry's message id, empty when absent.
func (u *Updater) MessageID(key string) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	if e, ok := u.entries[key]; ok {
		return e.messageID
	}
	return ""
}

// Append replaces the entry's text and schedules a flush.
func (u *Updater) Append(key, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.entries[key]
	if !ok {
		return
	}
	e.currentText = text
	u.scheduleFlushLocked(key, e)
}

// AppendCumulative adds a history line; the message shows the full history.
func (u *Updater) AppendCumulative(key, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.entries[key]
	if !ok {
		return
	}
	e.historyLines = append(e.historyLines, text)
	e.currentText = strings.Join(e.historyLines, "\n")
	u.scheduleFlushLocked(key, e)
}

func (u *Updater) scheduleFlushLocked(key string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(u.debounce, func() {
		u.flush(key)
	})
}

// flush edits the status message with the entry's current text. One flush
// in flight per entry; a fire during an in-flight flush re-arms shortly.
func (u *Updater) flush(key string) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	if e.flushDone != nil {
		e.timer = time.AfterFunc(10*time.Millisecond, func() { u.flush(key) })
		u.mu.Unlock()
		return
	}

	updater, capable := u.client.(chat.MessageUpdater)
	if !capable {
		u.mu.Unlock()
		return
	}

	done := make(chan struct{})
	e.flushDone = done
	channelID, messageID := e.channelID, e.messageID
	text := chat.ClampForPlatform(u.client.Platform(), e.currentText)
	u.mu.Unlock()

	if err := updater.UpdateMessage(context.Background(), channelID, messageID, text); err != nil {
		u.logger.Warn("Streaming update failed", "key", key, "error", err)
	}

	u.mu.Lock()
	if cur, ok := u.entries[key]; ok && cur.flushDone == done {
		cur.flushDone = nil
	}
	u.mu.Unlock()
	close(done)
}

// Finalize ends the entry: awaits any in-flight flush, removes the entry,
// and posts a fresh completion message. When expectedMessageID is non-empty
// and does not match the entry, a newer turn owns the message and the call
// is a no-op.
func (u *Updater) Finalize(ctx context.Context, key, header, expectedMessageID string) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	if expectedMessageID != "" && e.messageID != expectedMessageID {
		u.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	inFlight := e.flushDone
	delete(u.entries, key)
	channelID := e.channelID
	u.mu.Unlock()

	if inFlight != nil {
		<-inFlight
	}

	if header == "" {
		header = "✅ Done"
	}
	if err := u.client.SendToChannel(ctx, channelID, header); err != nil {
		u.logger.Warn("Failed to send completion message", "key", key, "error", err)
	}
}

// Discard drops the entry without posting anything.
func (u *Updater) Discard(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if e, ok := u.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(u.entries, key)
	}
}
