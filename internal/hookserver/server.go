// Package hookserver runs the localhost HTTP listener that agent hooks and
// helper scripts talk to. It carries structured agent events into the chat
// pipeline and exposes a small runtime control surface.
package hookserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/discode-sh/discode/internal/bridgeerr"
	"github.com/discode-sh/discode/internal/chat"
	"github.com/discode-sh/discode/internal/config"
	"github.com/discode-sh/discode/internal/pending"
	"github.com/discode-sh/discode/internal/ptyruntime"
	"github.com/discode-sh/discode/internal/state"
	"github.com/discode-sh/discode/internal/streaming"
)

// lifecycleGrace is how long after session.start the server waits for AI
// activity before assuming the session produced none.
const lifecycleGrace = 5 * time.Second

const (
	// maxBodyBytes caps hook request bodies. Events are small JSON
	// documents; anything larger is a misbehaving client.
	maxBodyBytes = 1 << 20

	readTimeout = 10 * time.Second
)

// Runtime is the window backend the control endpoints drive.
type Runtime interface {
	GetOrCreateSession(project string) string
	WindowExists(sessionName, windowName string) bool
	StartAgentInWindow(sessionName, windowName, commandLine string) error
	TypeKeysToWindow(sessionName, windowName, keys string) error
	SendKeysToWindow(sessionName, windowName, keys string) error
	SendEnterToWindow(sessionName, windowName string) error
	ListWindows(sessionName string) []ptyruntime.WindowInfo
	StopWindow(sessionName, windowName string) bool
}

// Server is the hook HTTP listener.
type Server struct {
	cfg     *config.Config
	store   state.Store
	tracker *pending.Tracker
	updater *streaming.Updater
	client  chat.Client
	runtime Runtime
	logger  *slog.Logger

	httpServer *http.Server

	mu        sync.Mutex
	lifecycle map[string]*time.Timer
	grace     time.Duration
}

// New wires a hook server. It does not bind until Start.
func New(cfg *config.Config, store state.Store, tracker *pending.Tracker, updater *streaming.Updater, client chat.Client, runtime Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		updater:   updater,
		client:    client,
		runtime:   runtime,
		logger:    logger,
		lifecycle: make(map[string]*time.Timer),
		grace:     lifecycleGrace,
	}
}

// SetLifecycleGrace overrides the session-start grace period. Used by tests.
func (s *Server) SetLifecycleGrace(d time.Duration) {
	s.mu.Lock()
	s.grace = d
	s.mu.Unlock()
}

// Handler builds the route table. Exposed for in-process tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/opencode-event", s.authed(s.handleEvent))
	mux.HandleFunc("/runtime/ensure", s.authed(s.handleRuntimeEnsure))
	mux.HandleFunc("/runtime/focus", s.authed(s.handleRuntimeFocus))
	mux.HandleFunc("/runtime/input", s.authed(s.handleRuntimeInput))
	mux.HandleFunc("/runtime/windows", s.authed(s.handleRuntimeWindows))
	mux.HandleFunc("/runtime/stop", s.authed(s.handleRuntimeStop))
	mux.HandleFunc("/send-files", s.authed(s.handleSendFiles))
	return mux
}

// Start binds localhost:port and serves until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.HookPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not bind hook listener: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: readTimeout,
	}
	s.logger.Info("Hook server listening", "addr", addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Hook server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return fmt.Sprintf("127.0.0.1:%d", s.cfg.HookPort)
}

// Stop shuts the listener down and cancels lifecycle timers.
func (s *Server) Stop() {
	s.mu.Lock()
	for key, timer := range s.lifecycle {
		timer.Stop()
		delete(s.lifecycle, key)
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// authed wraps a handler with bearer-token auth.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.cfg.HookToken == "" || token != s.cfg.HookToken {
			writeError(w, bridgeerr.Unauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, kind bridgeerr.Kind, message string) {
	status := bridgeerr.HTTPStatus(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Status: status, Message: message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type ensureRequest struct {
	ProjectName string `json:"projectName"`
	Window      string `json:"window"`
	Command     string `json:"command"`
}

func (s *Server) handleRuntimeEnsure(w http.ResponseWriter, r *http.Request) {
	var req ensureRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, bridgeerr.InvalidPayload, "invalid JSON body")
		return
	}
	if req.ProjectName == "" || req.Window == "" || req.Command == "" {
		writeError(w, bridgeerr.MissingField, "projectName, window and command are required")
		return
	}

	sessionName := req.ProjectName
	if project, ok := s.store.GetProject(req.ProjectName); ok && project.TmuxSession != "" {
		sessionName = project.TmuxSession
	}
	session := s.runtime.GetOrCreateSession(sessionName)
	if err := s.runtime.StartAgentInWindow(session, req.Window, req.Command); err != nil {
		writeError(w, bridgeerr.RuntimeError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "windowId": state.WindowID(session, req.Window)})
}

type windowRequest struct {
	ProjectName string `json:"projectName"`
	Window      string `json:"window"`
	Keys        string `json:"keys,omitempty"`
	Enter       bool   `json:"enter,omitempty"`
}

func (s *Server) handleRuntimeFocus(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, bridgeerr.InvalidPayload, "invalid JSON body")
		return
	}
	if !s.runtime.WindowExists(req.ProjectName, req.Window) {
		writeError(w, bridgeerr.NotFound, fmt.Sprintf("window %q not found", req.Window))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRuntimeInput(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, bridgeerr.InvalidPayload, "invalid JSON body")
		return
	}
	if !s.runtime.WindowExists(req.ProjectName, req.Window) {
		writeError(w, bridgeerr.NotFound, fmt.Sprintf("window %q not found", req.Window))
		return
	}

	var err error
	if req.Enter {
		err = s.runtime.SendKeysToWindow(req.ProjectName, req.Window, req.Keys)
	} else {
		err = s.runtime.TypeKeysToWindow(req.ProjectName, req.Window, req.Keys)
	}
	if err != nil {
		writeError(w, bridgeerr.RuntimeError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRuntimeWindows(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	writeJSON(w, map[string]any{"windows": s.runtime.ListWindows(session)})
}

func (s *Server) handleRuntimeStop(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, bridgeerr.InvalidPayload, "invalid JSON body")
		return
	}
	stopped := s.runtime.StopWindow(req.ProjectName, req.Window)
	if !stopped {
		writeError(w, bridgeerr.NotFound, fmt.Sprintf("window %q not found", req.Window))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type sendFilesRequest struct {
	ChannelID string   `json:"channelId"`
	Message   string   `json:"message,omitempty"`
	Files     []string `json:"files"`
}

func (s *Server) handleSendFiles(w http.ResponseWriter, r *http.Request) {
	var req sendFilesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, bridgeerr.InvalidPayload, "invalid JSON body")
		return
	}
	if req.ChannelID == "" || len(req.Files) == 0 {
		writeError(w, bridgeerr.MissingField, "channelId and files are required")
		return
	}

	if err := s.client.SendToChannelWithFiles(r.Context(), req.ChannelID, req.Message, req.Files); err != nil {
		writeError(w, bridgeerr.ChatPlatformError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
