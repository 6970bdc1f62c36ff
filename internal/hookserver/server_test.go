package hookserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode-sh/discode/internal/chat/chattest"
	"github.com/discode-sh/discode/internal/config"
	"github.com/discode-sh/discode/internal/pending"
	"github.com/discode-sh/discode/internal/ptyruntime"
	"github.com/discode-sh/discode/internal/state"
	"github.com/discode-sh/discode/internal/streaming"
)

const testToken = "hook-secret"

// fakeRuntime records runtime control calls.
type fakeRuntime struct {
	windows map[string]bool
	started []string
	typed   []string
	stopped []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{windows: make(map[string]bool)}
}

func (f *fakeRuntime) GetOrCreateSession(project string) string { return project }

func (f *fakeRuntime) WindowExists(sessionName, windowName string) bool {
	return f.windows[state.WindowID(sessionName, windowName)]
}

func (f *fakeRuntime) StartAgentInWindow(sessionName, windowName, commandLine string) error {
	f.windows[state.WindowID(sessionName, windowName)] = true
	f.started = append(f.started, commandLine)
	return nil
}

func (f *fakeRuntime) TypeKeysToWindow(sessionName, windowName, keys string) error {
	f.typed = append(f.typed, keys)
	return nil
}

func (f *fakeRuntime) SendKeysToWindow(sessionName, windowName, keys string) error {
	f.typed = append(f.typed, keys+"\n")
	return nil
}

func (f *fakeRuntime) SendEnterToWindow(sessionName, windowName string) error {
	f.typed = append(f.typed, "\r")
	return nil
}

func (f *fakeRuntime) ListWindows(sessionName string) []ptyruntime.WindowInfo { return nil }

func (f *fakeRuntime) StopWindow(sessionName, windowName string) bool {
	id := state.WindowID(sessionName, windowName)
	if !f.windows[id] {
		return false
	}
	f.stopped = append(f.stopped, id)
	return true
}

type fixture struct {
	server  *Server
	client  *chattest.Client
	tracker *pending.Tracker
	updater *streaming.Updater
	runtime *fakeRuntime
	store   *state.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HookToken = testToken
	cfg.ShowThinking = true

	client := chattest.New()
	store := state.NewMemoryStore()
	store.SetProject(&state.Project{
		ProjectName: "myproj",
		ProjectPath: t.TempDir(),
		TmuxSession: "myproj",
		Instances: map[string]state.Instance{
			"claude": {AgentType: "claude", TmuxWindow: "claude", ChannelID: "chan-1"},
		},
	})

	tracker := pending.New(client, nil)
	updater := streaming.New(client, nil)
	updater.SetDebounce(20 * time.Millisecond)
	runtime := newFakeRuntime()

	srv := New(cfg, store, tracker, updater, client, runtime, nil)
	srv.SetLifecycleGrace(60 * time.Millisecond)

	return &fixture{server: srv, client: client, tracker: tracker, updater: updater, runtime: runtime, store: store}
}

func (f *fixture) post(t *testing.T, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postEvent(t *testing.T, ev Event) *httptest.ResponseRecorder {
	return f.post(t, "/opencode-event", ev, testToken)
}

func baseEvent(typ string) Event {
	return Event{ProjectName: "myproj", AgentType: "claude", Type: typ}
}

func TestHealthRequiresNoAuth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMissingTokenRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/opencode-event", baseEvent("session.end"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(t, "/opencode-event", baseEvent("session.end"), "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownProjectIs404(t *testing.T) {
	f := newFixture(t)

	ev := baseEvent("session.end")
	ev.ProjectName = "ghost"
	rec := f.postEvent(t, ev)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownEventTypeIs501(t *testing.T) {
	f := newFixture(t)

	rec := f.postEvent(t, baseEvent("quantum.flux"))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestMalformedBodyIs400(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/opencode-event", strings.NewReader("{nope"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(400), body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestEventMarksHookActive(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	rec := f.postEvent(t, baseEvent("thinking.start"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.tracker.IsHookActive("myproj", "claude", ""))
}

func TestPromptSubmitCreatesStartMessage(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	ev := baseEvent("prompt.submit")
	ev.Text = "refactor the auth flow"
	rec := f.postEvent(t, ev)
	require.Equal(t, http.StatusOK, rec.Code)

	texts := f.client.SendTexts()
	require.NotEmpty(t, texts)
	assert.Equal(t, "📝 Prompt: refactor the auth flow", texts[len(texts)-1])

	entry, ok := f.tracker.GetPending("myproj", "claude", "")
	require.True(t, ok)
	assert.NotEmpty(t, entry.StartMessageID)
}

func TestSessionStartStartupIsNoop(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	ev := baseEvent("session.start")
	ev.Source = "startup"
	rec := f.postEvent(t, ev)
	require.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, f.tracker.HasPending("myproj", "claude", ""), "startup session must not complete the entry")
}

func TestSessionStartLifecycleTimerCompletesQuietSession(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	rec := f.postEvent(t, baseEvent("session.start"))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		return !f.tracker.HasPending("myproj", "claude", "")
	}, time.Second, 10*time.Millisecond, "quiet session completed by lifecycle timer")
}

func TestToolActivityCancelsLifecycleTimer(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	f.postEvent(t, baseEvent("session.start"))

	ev := baseEvent("tool.activity")
	ev.ToolName = "Read"
	f.postEvent(t, ev)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, f.tracker.HasPending("myproj", "claude", ""), "activity cancels the lifecycle completion")
}

func TestToolActivityStreamsStatus(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	ev := baseEvent("tool.activity")
	ev.ToolName = "Read"
	ev.ToolInput = "main.go"
	require.Equal(t, http.StatusOK, f.postEvent(t, ev).Code)

	ev.ToolName = "Edit"
	ev.ToolInput = "main.go"
	require.Equal(t, http.StatusOK, f.postEvent(t, ev).Code)

	// The status message was created once and then edited cumulatively.
	texts := f.client.SendTexts()
	statusCount := 0
	for _, text := range texts {
		if text == "⚙️ Working..." {
			statusCount++
		}
	}
	assert.Equal(t, 1, statusCount)

	assert.Eventually(t, func() bool {
		update, ok := f.client.LastUpdate()
		return ok && strings.Contains(update.Text, "🔧 Read: main.go") &&
			strings.Contains(update.Text, "🔧 Edit: main.go")
	}, time.Second, 10*time.Millisecond)
}

func TestSessionIdlePostsResponseAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	ev := baseEvent("session.idle")
	ev.Text = "All done, the tests pass."
	rec := f.postEvent(t, ev)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, f.client.SendTexts(), "All done, the tests pass.")
	assert.False(t, f.tracker.HasPending("myproj", "claude", ""))

	reaction, ok := f.client.LastReaction()
	require.True(t, ok)
	assert.Equal(t, pending.ReactionCompleted, reaction.To)
}

func TestSessionIdlePostsThinkingAsThreadReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.MarkPending(ctx, "myproj", "claude", "chan-1", "msg-1", "")
	f.tracker.EnsureStartMessage(ctx, "myproj", "claude", "", "the prompt")

	ev := baseEvent("session.idle")
	ev.Text = "answer"
	ev.Thinking = "considered three approaches"
	require.Equal(t, http.StatusOK, f.postEvent(t, ev).Code)

	require.NotEmpty(t, f.client.Replies)
	reply := f.client.Replies[0]
	assert.Contains(t, reply.Text, "considered three approaches")
	assert.Contains(t, reply.Text, "```")
}

func TestSessionIdleFinalizesStreaming(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending(context.Background(), "myproj", "claude", "chan-1", "msg-1", "")

	ev := baseEvent("tool.activity")
	ev.ToolName = "Bash"
	f.postEvent(t, ev)

	idle := baseEvent("session.idle")
	idle.Text = "finished"
	f.postEvent(t, idle)

	assert.Contains(t, f.client.SendTexts(), "✅ Done")
}

func TestNotificationEvents(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		ev   Event
		want string
	}{
		{func() Event {
			e := baseEvent("session.end")
			e.Reason = "user quit"
			return e
		}(), "Session ended: user quit"},
		{func() Event {
			e := baseEvent("permission.request")
			e.ToolName = "Bash"
			e.ToolInput = "rm -rf build"
			return e
		}(), "🔐 Permission needed: `Bash` `rm -rf build`"},
		{func() Event {
			e := baseEvent("task.completed")
			e.TeammateName = "reviewer"
			e.TaskSubject = "audit auth"
			return e
		}(), "✅ Task completed [reviewer]: audit auth"},
		{func() Event {
			e := baseEvent("task.completed")
			e.TaskSubject = "solo task"
			return e
		}(), "✅ Task completed: solo task"},
		{func() Event {
			e := baseEvent("tool.failure")
			e.ToolName = "Edit"
			e.Error = "file not found"
			return e
		}(), "⚠️ *Edit failed*: file not found"},
		{func() Event {
			e := baseEvent("teammate.idle")
			e.TeammateName = "builder"
			e.TeamName = "core"
			return e
		}(), "💤 *[builder]* idle (core)"},
		{func() Event {
			e := baseEvent("teammate.idle")
			e.TeammateName = "builder"
			return e
		}(), "💤 *[builder]* idle"},
		{func() Event {
			e := baseEvent("teammate.idle")
			e.TeamName = "core"
			return e
		}(), "💤 idle (core)"},
		{func() Event {
			e := baseEvent("teammate.idle")
			return e
		}(), "💤 idle"},
	}

	for _, tc := range cases {
		rec := f.postEvent(t, tc.ev)
		require.Equal(t, http.StatusOK, rec.Code, tc.want)
		assert.Contains(t, f.client.SendTexts(), tc.want)
	}
}

func TestRuntimeEnsureSpawns(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/runtime/ensure", map[string]string{
		"projectName": "myproj", "window": "claude", "command": "claude --continue",
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "myproj:claude")
	assert.Equal(t, []string{"claude --continue"}, f.runtime.started)
}

func TestRuntimeInputTypesKeys(t *testing.T) {
	f := newFixture(t)
	f.runtime.windows["myproj:claude"] = true

	rec := f.post(t, "/runtime/input", map[string]any{
		"projectName": "myproj", "window": "claude", "keys": "hello", "enter": false,
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hello"}, f.runtime.typed)
}

func TestRuntimeInputUnknownWindowIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/runtime/input", map[string]any{
		"projectName": "myproj", "window": "ghost", "keys": "x",
	}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuntimeStop(t *testing.T) {
	f := newFixture(t)
	f.runtime.windows["myproj:claude"] = true

	rec := f.post(t, "/runtime/stop", map[string]string{
		"projectName": "myproj", "window": "claude",
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"myproj:claude"}, f.runtime.stopped)

	rec = f.post(t, "/runtime/stop", map[string]string{
		"projectName": "myproj", "window": "ghost",
	}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendFiles(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/send-files", map[string]any{
		"channelId": "chan-1", "message": "build logs", "files": []string{"/tmp/build.log"},
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	sent, ok := f.client.LastSend()
	require.True(t, ok)
	assert.Equal(t, "build logs", sent.Text)
	assert.Equal(t, []string{"/tmp/build.log"}, sent.Files)
}

func TestSendFilesMissingFieldsIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/send-files", map[string]any{"channelId": "chan-1"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	f := newFixture(t)

	padding := strings.Repeat("x", maxBodyBytes+1)
	body := []byte(`{"projectName":"myproj","agentType":"claude","type":"session.idle","text":"` + padding + `"}`)

	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
