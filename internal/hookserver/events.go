package hookserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/discode-sh/discode/internal/bridgeerr"
	"github.com/discode-sh/discode/internal/chat"
	"github.com/discode-sh/discode/internal/state"
)

// Event is the normalized payload agent hooks POST to /opencode-event.
type Event struct {
	ProjectName     string `json:"projectName"`
	AgentType       string `json:"agentType"`
	InstanceID      string `json:"instanceId,omitempty"`
	Type            string `json:"type"`
	Text            string `json:"text,omitempty"`
	Message         string `json:"message,omitempty"`
	Thinking        string `json:"thinking,omitempty"`
	Model           string `json:"model,omitempty"`
	Source          string `json:"source,omitempty"`
	Reason          string `json:"reason,omitempty"`
	ToolName        string `json:"toolName,omitempty"`
	ToolInput       string `json:"toolInput,omitempty"`
	TaskID          string `json:"taskId,omitempty"`
	TaskSubject     string `json:"taskSubject,omitempty"`
	TeammateName    string `json:"teammateName,omitempty"`
	TeamName        string `json:"teamName,omitempty"`
	Error           string `json:"error,omitempty"`
	SubmittedPrompt string `json:"submittedPrompt,omitempty"`
}

// eventContext is the resolved routing for one event.
type eventContext struct {
	event       Event
	project     *state.Project
	instance    *state.Instance
	channelID   string
	instanceKey string
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, bridgeerr.InvalidPayload, "invalid JSON body")
		return
	}
	if ev.ProjectName == "" || ev.AgentType == "" || ev.Type == "" {
		writeError(w, bridgeerr.MissingField, "projectName, agentType and type are required")
		return
	}

	ec, err := s.resolveEvent(ev)
	if err != nil {
		writeError(w, bridgeerr.KindOf(err), err.Error())
		return
	}

	// A hook spoke for this turn; the buffer fallback stands down.
	s.tracker.SetHookActive(ev.ProjectName, ev.AgentType, ev.InstanceID)

	if err := s.dispatchEvent(r.Context(), ec); err != nil {
		writeError(w, bridgeerr.KindOf(err), err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) resolveEvent(ev Event) (eventContext, error) {
	project, ok := s.store.GetProject(ev.ProjectName)
	if !ok {
		return eventContext{}, bridgeerr.Newf(bridgeerr.NotFound, "project %q not found", ev.ProjectName)
	}

	var instance *state.Instance
	if ev.InstanceID != "" {
		instance, ok = project.Instance(ev.InstanceID)
		if !ok {
			return eventContext{}, bridgeerr.Newf(bridgeerr.NotFound, "instance %q not found", ev.InstanceID)
		}
	} else {
		_, instance = project.PrimaryInstance(ev.AgentType)
		if instance == nil {
			return eventContext{}, bridgeerr.Newf(bridgeerr.NotFound, "no %s instance in project %q", ev.AgentType, ev.ProjectName)
		}
	}

	if instance.ChannelID == "" {
		return eventContext{}, bridgeerr.Newf(bridgeerr.NotFound, "instance has no channel")
	}

	return eventContext{
		event:       ev,
		project:     project,
		instance:    instance,
		channelID:   instance.ChannelID,
		instanceKey: state.PendingKey(ev.ProjectName, state.InstanceKey(ev.InstanceID, ev.AgentType)),
	}, nil
}

func (s *Server) dispatchEvent(ctx context.Context, ec eventContext) error {
	ev := ec.event

	switch ev.Type {
	case "prompt.submit":
		s.handlePromptSubmit(ctx, ec)
	case "session.start":
		s.handleSessionStart(ec)
	case "thinking.start":
		s.cancelLifecycleTimer(ec.instanceKey)
	case "tool.activity":
		s.handleToolActivity(ctx, ec)
	case "session.idle":
		s.handleSessionIdle(ctx, ec)
	case "session.end":
		s.sendBestEffort(ctx, ec.channelID, "Session ended: "+ev.Reason)
	case "permission.request":
		text := fmt.Sprintf("🔐 Permission needed: `%s`", ev.ToolName)
		if ev.ToolInput != "" {
			text += " `" + ev.ToolInput + "`"
		}
		s.sendBestEffort(ctx, ec.channelID, text)
	case "task.completed":
		s.sendBestEffort(ctx, ec.channelID, formatTaskCompleted(ev))
	case "tool.failure":
		s.sendBestEffort(ctx, ec.channelID, fmt.Sprintf("⚠️ *%s failed*: %s", ev.ToolName, ev.Error))
	case "teammate.idle":
		s.sendBestEffort(ctx, ec.channelID, formatTeammateIdle(ev))
	default:
		return bridgeerr.Newf(bridgeerr.Unsupported, "unknown event type %q", ev.Type)
	}
	return nil
}

func (s *Server) handlePromptSubmit(ctx context.Context, ec eventContext) {
	ev := ec.event
	text := ev.Text
	if text == "" {
		text = ev.SubmittedPrompt
	}

	id := s.tracker.EnsureStartMessage(ctx, ev.ProjectName, ev.AgentType, ev.InstanceID, text)
	if id == "" && text != "" {
		s.sendBestEffort(ctx, ec.channelID, "📝 Prompt: "+text)
	}
}

func (s *Server) handleSessionStart(ec eventContext) {
	ev := ec.event
	if ev.Source == "startup" {
		return
	}

	s.mu.Lock()
	grace := s.grace
	if prev, ok := s.lifecycle[ec.instanceKey]; ok {
		prev.Stop()
	}
	s.lifecycle[ec.instanceKey] = time.AfterFunc(grace, func() {
		s.mu.Lock()
		delete(s.lifecycle, ec.instanceKey)
		s.mu.Unlock()

		// A session that never produced AI activity still needs its
		// pending entry resolved.
		entry, ok := s.tracker.GetPending(ev.ProjectName, ev.AgentType, ev.InstanceID)
		if ok && entry.StartMessageID == "" && s.tracker.HasPending(ev.ProjectName, ev.AgentType, ev.InstanceID) {
			s.tracker.MarkCompleted(context.Background(), ev.ProjectName, ev.AgentType, ev.InstanceID)
		}
	})
	s.mu.Unlock()
}

func (s *Server) cancelLifecycleTimer(instanceKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.lifecycle[instanceKey]; ok {
		timer.Stop()
		delete(s.lifecycle, instanceKey)
	}
}

func (s *Server) handleToolActivity(ctx context.Context, ec eventContext) {
	ev := ec.event
	s.cancelLifecycleTimer(ec.instanceKey)

	// First activity of the turn creates the streaming status message.
	if s.updater.MessageID(ec.instanceKey) == "" {
		sender, ok := s.client.(chat.IDSender)
		if !ok {
			return
		}
		id, err := sender.SendToChannelWithID(ctx, ec.channelID, "⚙️ Working...")
		if err != nil {
			s.logger.Warn("Failed to create status message", "key", ec.instanceKey, "error", err)
			return
		}
		s.updater.Start(ec.instanceKey, ec.channelID, id)
	}

	s.updater.AppendCumulative(ec.instanceKey, formatToolLine(ev))
}

func (s *Server) handleSessionIdle(ctx context.Context, ec eventContext) {
	ev := ec.event

	response := ev.Text
	if response == "" {
		response = ev.Message
	}
	if s.cfg.ShowUsage && ev.Model != "" {
		response = strings.TrimRight(response, "\n") + "\n-# " + ev.Model
	}

	platform := s.client.Platform()
	for _, chunk := range chat.SplitMessage(platform, response) {
		s.sendBestEffort(ctx, ec.channelID, chunk)
	}

	if s.cfg.ShowThinking && ev.Thinking != "" {
		s.postThinking(ctx, ec, ev.Thinking)
	}

	expected := s.updater.MessageID(ec.instanceKey)
	s.updater.Finalize(ctx, ec.instanceKey, "", expected)
	s.tracker.MarkCompleted(ctx, ev.ProjectName, ev.AgentType, ev.InstanceID)
}

// postThinking threads thinking output under the start-of-turn anchor when
// the platform supports it, otherwise posts inline.
func (s *Server) postThinking(ctx context.Context, ec eventContext, thinking string) {
	ev := ec.event
	platform := s.client.Platform()
	chunks := chat.SplitMessage(platform, "```\n"+thinking+"\n```")

	var anchorID string
	if entry, ok := s.tracker.GetPending(ev.ProjectName, ev.AgentType, ev.InstanceID); ok {
		anchorID = entry.StartMessageID
	}

	replier, threaded := s.client.(chat.ThreadReplier)
	for _, chunk := range chunks {
		if threaded && anchorID != "" {
			if err := replier.ReplyInThread(ctx, ec.channelID, anchorID, chunk); err != nil {
				s.logger.Warn("Thread reply failed", "key", ec.instanceKey, "error", err)
			}
			continue
		}
		s.sendBestEffort(ctx, ec.channelID, chunk)
	}
}

func (s *Server) sendBestEffort(ctx context.Context, channelID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := s.client.SendToChannel(ctx, channelID, text); err != nil {
		s.logger.Warn("Channel send failed", "channel", channelID, "error", err)
	}
}

func formatToolLine(ev Event) string {
	line := "🔧 " + ev.ToolName
	if ev.ToolInput != "" {
		input := ev.ToolInput
		if len(input) > 120 {
			input = input[:120] + "..."
		}
		line += ": " + input
	}
	return line
}

func formatTaskCompleted(ev Event) string {
	text := "✅ Task completed"
	if ev.TeammateName != "" {
		text += " [" + ev.TeammateName + "]"
	}
	if ev.TaskSubject != "" {
		text += ": " + ev.TaskSubject
	}
	return text
}

func formatTeammateIdle(ev Event) string {
	text := "💤 idle"
	if ev.TeammateName != "" {
		text = fmt.Sprintf("💤 *[%s]* idle", ev.TeammateName)
	}
	if ev.TeamName != "" {
		text += " (" + ev.TeamName + ")"
	}
	return text
}
