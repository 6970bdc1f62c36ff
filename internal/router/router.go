// Package router carries inbound chat messages to the right agent window
// and watches for responses from agents that never report back via hooks.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/discode-sh/discode/internal/agents"
	"github.com/discode-sh/discode/internal/bridgeerr"
	"github.com/discode-sh/discode/internal/chat"
	"github.com/discode-sh/discode/internal/config"
	"github.com/discode-sh/discode/internal/pending"
	"github.com/discode-sh/discode/internal/state"
)

// maxMessageLength rejects runaway prompts before they hit a PTY.
const maxMessageLength = 10000

// fallbackMaxChecks bounds the buffer-fallback stability rechecks.
const fallbackMaxChecks = 3

// Runtime is the window backend the router dispatches prompts into.
type Runtime interface {
	WindowExists(sessionName, windowName string) bool
	TypeKeysToWindow(sessionName, windowName, keys string) error
	SendEnterToWindow(sessionName, windowName string) error
	GetWindowBuffer(sessionName, windowName string) (string, error)
}

// FileInjector copies a downloaded file into a container-mode instance.
type FileInjector interface {
	InjectFile(ctx context.Context, containerID, localPath, containerPath string) error
}

// Router is the single inbound-message callback registered on the chat
// client.
type Router struct {
	cfg      *config.Config
	store    state.Store
	tracker  *pending.Tracker
	client   chat.Client
	runtime  Runtime
	runners  *agents.RunnerRegistry
	injector FileInjector
	logger   *slog.Logger

	mu        sync.Mutex
	fallbacks map[string]*time.Timer
}

// New wires a router. injector may be nil when container mode is unused.
func New(cfg *config.Config, store state.Store, tracker *pending.Tracker, client chat.Client, runtime Runtime, runners *agents.RunnerRegistry, injector FileInjector, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		client:    client,
		runtime:   runtime,
		runners:   runners,
		injector:  injector,
		logger:    logger,
		fallbacks: make(map[string]*time.Timer),
	}
}

// Register installs the router as the chat client's message handler.
func (r *Router) Register() {
	r.client.OnMessage(r.Handle)
}

// Stop cancels outstanding fallback timers.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, timer := range r.fallbacks {
		timer.Stop()
		delete(r.fallbacks, key)
	}
}

// Handle routes one inbound chat message.
func (r *Router) Handle(ctx context.Context, msg chat.Message) error {
	text, err := sanitize(msg.Content)
	if err != nil {
		r.reject(ctx, msg, "Message rejected")
		return err
	}

	project, ok := r.store.GetProject(msg.ProjectName)
	if !ok {
		r.reject(ctx, msg, fmt.Sprintf("Project %q not found", msg.ProjectName))
		return bridgeerr.Newf(bridgeerr.NotFound, "project %q not found", msg.ProjectName)
	}

	instanceID := msg.InstanceID
	var instance *state.Instance
	if instanceID != "" {
		instance, ok = project.Instance(instanceID)
		if !ok {
			r.reject(ctx, msg, fmt.Sprintf("Instance %q not found", instanceID))
			return bridgeerr.Newf(bridgeerr.NotFound, "instance %q not found", instanceID)
		}
	} else {
		instanceID, instance = project.PrimaryInstance(msg.AgentType)
		if instance == nil {
			r.reject(ctx, msg, fmt.Sprintf("No %s agent in project %q", msg.AgentType, msg.ProjectName))
			return bridgeerr.Newf(bridgeerr.NotFound, "no %s instance in project %q", msg.AgentType, msg.ProjectName)
		}
		msg.InstanceID = instanceID
	}

	if instance.RuntimeType == state.RuntimeTypeSDK {
		return r.routeSDK(ctx, msg, text)
	}
	return r.routePTY(ctx, msg, project, instance, text)
}

func (r *Router) routeSDK(ctx context.Context, msg chat.Message, text string) error {
	runner, ok := r.runners.Get(msg.ProjectName, msg.InstanceID)
	if !ok {
		r.reject(ctx, msg, "SDK runner not found")
		return bridgeerr.Newf(bridgeerr.NotFound, "no SDK runner for %s:%s", msg.ProjectName, msg.InstanceID)
	}

	r.tracker.MarkPending(ctx, msg.ProjectName, msg.AgentType, msg.ChannelID, msg.MessageID, msg.InstanceID)
	r.tracker.SetPromptPreview(msg.ProjectName, msg.AgentType, text, msg.InstanceID)

	if err := runner.SubmitMessage(ctx, text); err != nil {
		r.tracker.MarkError(ctx, msg.ProjectName, msg.AgentType, msg.InstanceID)
		return fmt.Errorf("SDK submit failed: %w", err)
	}
	return nil
}

func (r *Router) routePTY(ctx context.Context, msg chat.Message, project *state.Project, instance *state.Instance, text string) error {
	session := project.TmuxSession
	window := instance.TmuxWindow

	if !r.runtime.WindowExists(session, window) {
		r.reject(ctx, msg, fmt.Sprintf("Agent window %q is not running", window))
		return bridgeerr.Newf(bridgeerr.NotFound, "window %s not running", state.WindowID(session, window))
	}

	fullText := text
	if len(msg.Attachments) > 0 {
		markers, err := r.downloadAttachments(ctx, msg, project, instance)
		if err != nil {
			r.logger.Warn("Attachment download failed", "project", msg.ProjectName, "error", err)
		}
		if len(markers) > 0 {
			fullText = text + "\n" + strings.Join(markers, "\n")
		}
	}

	def, _ := agents.Lookup(msg.AgentType)
	if def.TmuxStyle {
		// Terminal-only agents give no hook feedback; keep whatever entry
		// already exists rather than resetting the reaction cycle.
		r.tracker.EnsurePending(msg.ProjectName, msg.AgentType, msg.ChannelID, msg.InstanceID)
	} else {
		r.tracker.MarkPending(ctx, msg.ProjectName, msg.AgentType, msg.ChannelID, msg.MessageID, msg.InstanceID)
	}
	r.tracker.SetPromptPreview(msg.ProjectName, msg.AgentType, text, msg.InstanceID)

	if err := r.runtime.TypeKeysToWindow(session, window, fullText); err != nil {
		r.tracker.MarkError(ctx, msg.ProjectName, msg.AgentType, msg.InstanceID)
		return fmt.Errorf("could not type prompt: %w", err)
	}

	// The staging pause keeps agent TUIs from treating the submit as part
	// of a bracketed paste.
	delay := config.EnvInt("DISCODE_SUBMIT_DELAY_MS", r.cfg.SubmitDelayMs)
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}

	if err := r.runtime.SendEnterToWindow(session, window); err != nil {
		r.tracker.MarkError(ctx, msg.ProjectName, msg.AgentType, msg.InstanceID)
		return fmt.Errorf("could not submit prompt: %w", err)
	}

	r.scheduleBufferFallback(msg, session, window)
	return nil
}

// reject marks the message errored and tells the user why.
func (r *Router) reject(ctx context.Context, msg chat.Message, reason string) {
	r.tracker.MarkError(ctx, msg.ProjectName, msg.AgentType, msg.InstanceID)
	if err := r.client.SendToChannel(ctx, msg.ChannelID, reason); err != nil {
		r.logger.Warn("Failed to send rejection", "channel", msg.ChannelID, "error", err)
	}
}

// sanitize validates and cleans inbound message text.
func sanitize(content string) (string, error) {
	cleaned := strings.ReplaceAll(content, "\x00", "")
	if strings.TrimSpace(cleaned) == "" {
		return "", bridgeerr.New(bridgeerr.InvalidPayload, "empty message")
	}
	if len(cleaned) > maxMessageLength {
		return "", bridgeerr.Newf(bridgeerr.Oversize, "message length %d exceeds %d", len(cleaned), maxMessageLength)
	}
	return cleaned, nil
}

// scheduleBufferFallback arms the no-hook watchdog for this turn.
func (r *Router) scheduleBufferFallback(msg chat.Message, session, window string) {
	key := state.PendingKey(msg.ProjectName, state.InstanceKey(msg.InstanceID, msg.AgentType))

	prior, err := r.runtime.GetWindowBuffer(session, window)
	if err != nil {
		r.logger.Warn("Could not snapshot window for fallback", "window", window, "error", err)
		return
	}

	initial := config.EnvInt("DISCODE_BUFFER_FALLBACK_INITIAL_MS", r.cfg.BufferFallbackInitialMs)

	r.mu.Lock()
	if prev, ok := r.fallbacks[key]; ok {
		prev.Stop()
	}
	r.fallbacks[key] = time.AfterFunc(time.Duration(initial)*time.Millisecond, func() {
		r.checkBufferFallback(msg, session, window, key, prior, 0)
	})
	r.mu.Unlock()
}

func (r *Router) checkBufferFallback(msg chat.Message, session, window, key, prior string, checks int) {
	ctx := context.Background()

	// A hook spoke for this turn, or the turn already resolved.
	if r.tracker.IsHookActive(msg.ProjectName, msg.AgentType, msg.InstanceID) ||
		!r.tracker.HasPending(msg.ProjectName, msg.AgentType, msg.InstanceID) {
		r.clearFallback(key)
		return
	}

	current, err := r.runtime.GetWindowBuffer(session, window)
	if err != nil {
		r.logger.Warn("Fallback snapshot failed", "window", window, "error", err)
		r.clearFallback(key)
		return
	}

	if current == prior {
		r.clearFallback(key)
		if isIdlePrompt(current) {
			return
		}
		block := trailingBlock(current)
		if block == "" {
			return
		}
		r.sendFallbackResponse(ctx, msg, block)
		r.tracker.MarkCompleted(ctx, msg.ProjectName, msg.AgentType, msg.InstanceID)
		return
	}

	if checks+1 >= fallbackMaxChecks {
		// Still changing; a later stop-hook owns the completion.
		r.clearFallback(key)
		return
	}

	stable := config.EnvInt("DISCODE_BUFFER_FALLBACK_STABLE_MS", r.cfg.BufferFallbackStableMs)
	r.mu.Lock()
	r.fallbacks[key] = time.AfterFunc(time.Duration(stable)*time.Millisecond, func() {
		r.checkBufferFallback(msg, session, window, key, current, checks+1)
	})
	r.mu.Unlock()
}

func (r *Router) clearFallback(key string) {
	r.mu.Lock()
	delete(r.fallbacks, key)
	r.mu.Unlock()
}

func (r *Router) sendFallbackResponse(ctx context.Context, msg chat.Message, block string) {
	text := "```\n" + block + "\n```"
	for _, chunk := range chat.SplitMessage(r.client.Platform(), text) {
		if err := r.client.SendToChannel(ctx, msg.ChannelID, chunk); err != nil {
			r.logger.Warn("Fallback send failed", "channel", msg.ChannelID, "error", err)
		}
	}
}
