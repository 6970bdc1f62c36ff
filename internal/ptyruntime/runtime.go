// Package ptyruntime manages agent processes running under pseudo-terminals.
//
// Windows are grouped into named sessions (one per project). Each window owns
// a PTY, a VT screen fed from the PTY output, and a terminal-query responder
// so full-screen agents behave as if a real terminal were attached.
package ptyruntime

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/discode-sh/discode/internal/state"
	"github.com/discode-sh/discode/internal/vt"
)

// Default PTY dimensions for new agent windows.
const (
	DefaultCols = 120
	DefaultRows = 40
)

// maxRawBuffer caps the retained raw output per window, used to re-render
// frames at viewports that differ from the live size.
const maxRawBuffer = 512 * 1024

// killGrace is how long StopWindow waits after SIGTERM before SIGKILL.
const killGrace = 1500 * time.Millisecond

// runningHeartbeat promotes a silent window out of starting.
const runningHeartbeat = 50 * time.Millisecond

// Status is the lifecycle state of a window.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// WindowInfo is a point-in-time description of one window.
type WindowInfo struct {
	SessionName string     `json:"sessionName"`
	WindowName  string     `json:"windowName"`
	Status      Status     `json:"status"`
	PID         int        `json:"pid,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	ExitedAt    *time.Time `json:"exitedAt,omitempty"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	Signal      string     `json:"signal,omitempty"`
}

// FrameFunc observes screen mutations. bufferLen is the plain-text buffer
// length after the mutation.
type FrameFunc func(windowID string, bufferLen int)

// ExitFunc observes window exits.
type ExitFunc func(windowID string, exitCode *int, signal string)

type session struct {
	name    string
	env     map[string]string
	windows map[string]*window
}

type window struct {
	sessionName string
	windowName  string

	mu        sync.Mutex
	ptyFile   *os.File
	cmd       *exec.Cmd
	screen    *vt.Screen
	responder *vt.Responder
	raw       []byte
	cols      int
	rows      int
	status    Status
	pid       int
	startedAt *time.Time
	exitedAt  *time.Time
	exitCode  *int
	signal    string

	readerWg sync.WaitGroup
}

// Runtime owns all sessions and windows for one daemon process.
type Runtime struct {
	mu       sync.RWMutex
	sessions map[string]*session

	callbackMu sync.RWMutex
	onFrame    FrameFunc
	onExit     ExitFunc

	logger *slog.Logger
}

// New creates an empty runtime.
func New(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

// OnFrame registers the screen-mutation observer. One observer; later calls
// replace earlier ones.
func (r *Runtime) OnFrame(fn FrameFunc) {
	r.callbackMu.Lock()
	r.onFrame = fn
	r.callbackMu.Unlock()
}

// OnExit registers the window-exit observer.
func (r *Runtime) OnExit(fn ExitFunc) {
	r.callbackMu.Lock()
	r.onExit = fn
	r.callbackMu.Unlock()
}

func (r *Runtime) fireFrame(windowID string, bufferLen int) {
	r.callbackMu.RLock()
	fn := r.onFrame
	r.callbackMu.RUnlock()
	if fn != nil {
		fn(windowID, bufferLen)
	}
}

func (r *Runtime) fireExit(windowID string, exitCode *int, signal string) {
	r.callbackMu.RLock()
	fn := r.onExit
	r.callbackMu.RUnlock()
	if fn != nil {
		fn(windowID, exitCode, signal)
	}
}

// GetOrCreateSession maps a project name to its session namespace.
// Idempotent; repeat calls return the same name.
func (r *Runtime) GetOrCreateSession(project string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[project]; !ok {
		r.sessions[project] = &session{
			name:    project,
			env:     make(map[string]string),
			windows: make(map[string]*window),
		}
		r.logger.Info("Session created", "session", project)
	}
	return project
}

// SetSessionEnv attaches an env binding applied to windows started later.
// Already-running windows are unaffected.
func (r *Runtime) SetSessionEnv(sessionName, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionName]
	if !ok {
		sess = &session{
			name:    sessionName,
			env:     make(map[string]string),
			windows: make(map[string]*window),
		}
		r.sessions[sessionName] = sess
	}
	sess.env[key] = value
}

// WindowExists reports whether a window record exists, regardless of status.
func (r *Runtime) WindowExists(sessionName, windowName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionName]
	if !ok {
		return false
	}
	_, ok = sess.windows[windowName]
	return ok
}

func (r *Runtime) lookup(sessionName, windowName string) *window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionName]
	if !ok {
		return nil
	}
	return sess.windows[windowName]
}

// StartAgentInWindow spawns commandLine via the platform shell with a PTY
// attached at the default size. A no-op when the window already exists and
// its process is still alive.
func (r *Runtime) StartAgentInWindow(sessionName, windowName, commandLine string) error {
	r.GetOrCreateSession(sessionName)

	r.mu.Lock()
	sess := r.sessions[sessionName]
	if existing, ok := sess.windows[windowName]; ok {
		existing.mu.Lock()
		alive := existing.status != StatusExited
		existing.mu.Unlock()
		if alive {
			r.mu.Unlock()
			return nil
		}
	}

	w := &window{
		sessionName: sessionName,
		windowName:  windowName,
		screen:      vt.NewScreen(DefaultCols, DefaultRows),
		responder:   vt.NewResponder(),
		cols:        DefaultCols,
		rows:        DefaultRows,
		status:      StatusStarting,
	}
	sess.windows[windowName] = w

	env := os.Environ()
	for k, v := range sess.env {
		env = append(env, k+"="+v)
	}
	r.mu.Unlock()

	cmd := exec.Command("sh", "-c", commandLine)
	cmd.Env = env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(DefaultRows),
		Cols: uint16(DefaultCols),
	})
	if err != nil {
		// Spawn failure goes straight to exited with no exit code.
		now := time.Now()
		w.mu.Lock()
		w.status = StatusExited
		w.exitedAt = &now
		w.mu.Unlock()
		r.fireExit(state.WindowID(sessionName, windowName), nil, "")
		return fmt.Errorf("could not spawn agent window %s: %w", windowName, err)
	}

	now := time.Now()
	w.mu.Lock()
	w.ptyFile = ptmx
	w.cmd = cmd
	w.pid = cmd.Process.Pid
	w.startedAt = &now
	banner := fmt.Sprintf("[runtime] process started (pid=%d)\r\n", w.pid)
	w.screen.Write([]byte(banner))
	w.mu.Unlock()

	r.logger.Info("Agent window started",
		"session", sessionName, "window", windowName, "pid", cmd.Process.Pid)

	w.readerWg.Add(1)
	go r.readerLoop(w)
	go r.heartbeat(w)

	return nil
}

// heartbeat promotes a quiet window to running shortly after spawn.
func (r *Runtime) heartbeat(w *window) {
	time.Sleep(runningHeartbeat)
	w.mu.Lock()
	if w.status == StatusStarting {
		w.status = StatusRunning
	}
	w.mu.Unlock()
}

// readerLoop pumps PTY output: query responses first, then the VT screen.
func (r *Runtime) readerLoop(w *window) {
	defer w.readerWg.Done()

	windowID := state.WindowID(w.sessionName, w.windowName)
	buf := make([]byte, 4096)

	for {
		n, err := w.ptyFile.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			w.mu.Lock()
			if w.status == StatusStarting {
				w.status = StatusRunning
			}

			frame := w.screen.Snapshot()
			st := vt.WindowState{
				CursorRow: frame.CursorRow,
				CursorCol: frame.CursorCol,
				Cols:      w.cols,
				Rows:      w.rows,
			}
			if reply := w.responder.Respond(chunk, st); len(reply) > 0 {
				if _, werr := w.ptyFile.Write(reply); werr != nil {
					r.logger.Warn("Failed to answer terminal query", "window", windowID, "error", werr)
				}
			}

			w.screen.Write(chunk)
			w.raw = append(w.raw, chunk...)
			if over := len(w.raw) - maxRawBuffer; over > 0 {
				w.raw = w.raw[over:]
			}
			bufferLen := len(w.screen.Buffer())
			w.mu.Unlock()

			r.fireFrame(windowID, bufferLen)
		}

		if err != nil {
			if err != io.EOF {
				r.logger.Debug("PTY read ended", "window", windowID, "error", err)
			}
			r.reapWindow(w, windowID)
			return
		}
	}
}

// reapWindow waits for the child, records its exit, and notifies observers.
func (r *Runtime) reapWindow(w *window, windowID string) {
	var exitCode *int
	var signal string

	if w.cmd != nil {
		err := w.cmd.Wait()
		if ws, ok := w.cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				signal = ws.Signal().String()
			} else {
				code := ws.ExitStatus()
				exitCode = &code
			}
		} else if err == nil {
			code := 0
			exitCode = &code
		}
	}

	now := time.Now()
	w.mu.Lock()
	w.status = StatusExited
	w.exitedAt = &now
	w.exitCode = exitCode
	w.signal = signal
	if w.ptyFile != nil {
		w.ptyFile.Close()
	}
	w.mu.Unlock()

	r.logger.Info("Agent window exited", "window", windowID, "exitCode", exitCode, "signal", signal)
	r.fireExit(windowID, exitCode, signal)
}

// SendKeysToWindow writes keys followed by a newline, submitting a line.
func (r *Runtime) SendKeysToWindow(sessionName, windowName, keys string) error {
	return r.writeInput(sessionName, windowName, []byte(keys+"\n"))
}

// TypeKeysToWindow writes keys without submitting, staging input for a
// separate Enter.
func (r *Runtime) TypeKeysToWindow(sessionName, windowName, keys string) error {
	return r.writeInput(sessionName, windowName, []byte(keys))
}

// SendEnterToWindow submits staged input.
func (r *Runtime) SendEnterToWindow(sessionName, windowName string) error {
	return r.writeInput(sessionName, windowName, []byte("\r"))
}

// WriteInput writes raw bytes to the window's PTY.
func (r *Runtime) WriteInput(sessionName, windowName string, data []byte) error {
	return r.writeInput(sessionName, windowName, data)
}

func (r *Runtime) writeInput(sessionName, windowName string, data []byte) error {
	w := r.lookup(sessionName, windowName)
	if w == nil {
		return fmt.Errorf("window %s not found in session %s", windowName, sessionName)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status == StatusExited || w.ptyFile == nil {
		return fmt.Errorf("window %s has exited", windowName)
	}
	_, err := w.ptyFile.Write(data)
	return err
}

// GetWindowBuffer returns the plain-text snapshot of the window's frame.
// Exited windows retain their final frame.
func (r *Runtime) GetWindowBuffer(sessionName, windowName string) (string, error) {
	w := r.lookup(sessionName, windowName)
	if w == nil {
		return "", fmt.Errorf("window %s not found in session %s", windowName, sessionName)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.screen.Buffer(), nil
}

// GetWindowFrame returns a styled frame. cols/rows of 0 use the live window
// size; any other viewport is re-rendered from retained raw output.
func (r *Runtime) GetWindowFrame(sessionName, windowName string, cols, rows int) (vt.Frame, error) {
	w := r.lookup(sessionName, windowName)
	if w == nil {
		return vt.Frame{}, fmt.Errorf("window %s not found in session %s", windowName, sessionName)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if (cols == 0 || cols == w.cols) && (rows == 0 || rows == w.rows) {
		return w.screen.Snapshot(), nil
	}
	return vt.RenderFrame(w.raw, cols, rows), nil
}

// ResizeWindow changes the live PTY and screen dimensions.
func (r *Runtime) ResizeWindow(sessionName, windowName string, cols, rows int) error {
	w := r.lookup(sessionName, windowName)
	if w == nil {
		return fmt.Errorf("window %s not found in session %s", windowName, sessionName)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.screen.Resize(cols, rows)
	w.cols, w.rows = w.screen.Size()

	if w.ptyFile != nil && w.status != StatusExited {
		return pty.Setsize(w.ptyFile, &pty.Winsize{
			Rows: uint16(w.rows),
			Cols: uint16(w.cols),
		})
	}
	return nil
}

// ListWindows describes all windows, or only sessionName's when non-empty.
// Results are ordered by session then window name.
func (r *Runtime) ListWindows(sessionName string) []WindowInfo {
	r.mu.RLock()
	var wins []*window
	for name, sess := range r.sessions {
		if sessionName != "" && name != sessionName {
			continue
		}
		for _, w := range sess.windows {
			wins = append(wins, w)
		}
	}
	r.mu.RUnlock()

	infos := make([]WindowInfo, 0, len(wins))
	for _, w := range wins {
		w.mu.Lock()
		infos = append(infos, WindowInfo{
			SessionName: w.sessionName,
			WindowName:  w.windowName,
			Status:      w.status,
			PID:         w.pid,
			StartedAt:   w.startedAt,
			ExitedAt:    w.exitedAt,
			ExitCode:    w.exitCode,
			Signal:      w.signal,
		})
		w.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SessionName != infos[j].SessionName {
			return infos[i].SessionName < infos[j].SessionName
		}
		return infos[i].WindowName < infos[j].WindowName
	})
	return infos
}

// StopWindow terminates the window's process: SIGTERM, then SIGKILL after a
// grace period. Returns false only when the window does not exist; stopping
// an exited window is a successful no-op.
func (r *Runtime) StopWindow(sessionName, windowName string) bool {
	w := r.lookup(sessionName, windowName)
	if w == nil {
		return false
	}

	w.mu.Lock()
	if w.status == StatusExited || w.cmd == nil || w.cmd.Process == nil {
		w.mu.Unlock()
		return true
	}
	proc := w.cmd.Process
	w.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		r.logger.Warn("SIGTERM failed", "window", windowName, "error", err)
	}

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		exited := w.status == StatusExited
		w.mu.Unlock()
		if exited {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil {
		r.logger.Warn("SIGKILL failed", "window", windowName, "error", err)
	}
	w.readerWg.Wait()
	return true
}

// Shutdown stops every window. Used on daemon exit.
func (r *Runtime) Shutdown() {
	for _, info := range r.ListWindows("") {
		if info.Status != StatusExited {
			r.StopWindow(info.SessionName, info.WindowName)
		}
	}
}
