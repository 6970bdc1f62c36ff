// Package streamserver serves live terminal frames over a local unix socket.
//
// Each connection speaks newline-delimited JSON. Clients subscribe to agent
// windows at a chosen viewport and receive styled (or plain) frames, with
// sparse line patches when only a few lines changed between flushes.
package streamserver

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discode-sh/discode/internal/vt"
)

// Flush tuning. A flush within minEmitInterval of the previous one is
// coalesced unless the frame substantively changed.
const (
	minEmitInterval = 50 * time.Millisecond
	patchThreshold  = 0.55
)

// sendQueueSize bounds per-connection outgoing messages. A client that
// cannot drain this many messages is dropped.
const sendQueueSize = 256

// Error codes carried on error frames.
const (
	ErrUnknownWindow = "unknown_window"
	ErrWindowMissing = "window_missing"
	ErrRuntimeError  = "runtime_error"
	ErrProtocol      = "protocol_error"
)

// Source is the window backend the server reads frames from and writes
// input to. Window identifiers are "session:window" strings.
type Source interface {
	WindowExists(windowID string) bool
	WindowFrame(windowID string, cols, rows int) (vt.Frame, error)
	WriteInput(windowID string, data []byte) error
}

// DefaultSocketPath returns the per-process default stream socket path.
func DefaultSocketPath() string {
	return fmt.Sprintf("%s/discode-stream-%d.sock", os.TempDir(), os.Getpid())
}

type clientMessage struct {
	Type        string `json:"type"`
	WindowID    string `json:"windowId"`
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
	Format      string `json:"format,omitempty"`
	BytesBase64 string `json:"bytesBase64,omitempty"`
}

type frameMessage struct {
	Type          string   `json:"type"`
	Seq           uint64   `json:"seq"`
	WindowID      string   `json:"windowId"`
	Lines         []string `json:"lines"`
	CursorRow     int      `json:"cursorRow"`
	CursorCol     int      `json:"cursorCol"`
	CursorVisible bool     `json:"cursorVisible"`
}

type styledFrameMessage struct {
	Type          string    `json:"type"`
	Seq           uint64    `json:"seq"`
	WindowID      string    `json:"windowId"`
	Lines         []vt.Line `json:"lines"`
	CursorRow     int       `json:"cursorRow"`
	CursorCol     int       `json:"cursorCol"`
	CursorVisible bool      `json:"cursorVisible"`
	LineCount     int       `json:"lineCount"`
}

type styledPatchOp struct {
	Index int     `json:"index"`
	Line  vt.Line `json:"line"`
}

type styledPatchMessage struct {
	Type          string          `json:"type"`
	Seq           uint64          `json:"seq"`
	WindowID      string          `json:"windowId"`
	LineCount     int             `json:"lineCount"`
	CursorRow     int             `json:"cursorRow"`
	CursorCol     int             `json:"cursorCol"`
	CursorVisible bool            `json:"cursorVisible"`
	Ops           []styledPatchOp `json:"ops"`
}

type plainPatchOp struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type plainPatchMessage struct {
	Type          string         `json:"type"`
	Seq           uint64         `json:"seq"`
	WindowID      string         `json:"windowId"`
	LineCount     int            `json:"lineCount"`
	CursorRow     int            `json:"cursorRow"`
	CursorCol     int            `json:"cursorCol"`
	CursorVisible bool           `json:"cursorVisible"`
	Ops           []plainPatchOp `json:"ops"`
}

type exitMessage struct {
	Type     string `json:"type"`
	WindowID string `json:"windowId"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// subscription is per-connection per-window flush state.
type subscription struct {
	windowID string
	cols     int
	rows     int
	plain    bool

	seq          uint64
	lastLines    []uint64
	lastCursor   [3]int
	hasPrev      bool
	lastEmit     time.Time
	exited       bool
	runtimeErrOn bool
}

type conn struct {
	id      string
	netConn net.Conn

	// sendMu orders queue writes against the close in dropConn so a frame
	// flush racing a disconnect cannot send on a closed channel.
	sendMu     sync.Mutex
	sendCh     chan []byte
	sendClosed bool

	mu   sync.Mutex
	subs map[string]*subscription

	closeOnce sync.Once
}

// Server accepts stream connections and fans frames out to subscribers.
type Server struct {
	socketPath string
	source     Source
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	closed   bool
}

// New creates a stream server for the given socket path. Pass an empty path
// to use the per-process default.
func New(socketPath string, source Source, logger *slog.Logger) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		source:     source,
		logger:     logger,
		conns:      make(map[*conn]struct{}),
	}
}

// SocketPath returns the socket path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start binds the unix socket and begins accepting connections.
func (s *Server) Start() error {
	// A stale socket from a crashed process blocks the bind.
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("could not bind stream socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Stream server listening", "socket", s.socketPath)

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Warn("Stream accept failed", "error", err)
			}
			return
		}

		c := &conn{
			id:      uuid.NewString(),
			netConn: netConn,
			sendCh:  make(chan []byte, sendQueueSize),
			subs:    make(map[string]*subscription),
		}

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.logger.Debug("Stream client connected", "conn", c.id)

		go s.writeLoop(c)
		go s.readLoop(c)
	}
}

// Stop closes the listener and all connections.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		s.dropConn(c)
	}
	os.Remove(s.socketPath)
}

func (s *Server) dropConn(c *conn) {
	c.closeOnce.Do(func() {
		c.netConn.Close()
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.sendCh)
		c.sendMu.Unlock()
	})

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) writeLoop(c *conn) {
	for msg := range c.sendCh {
		if _, err := c.netConn.Write(append(msg, '\n')); err != nil {
			s.dropConn(c)
			return
		}
	}
}

// send queues a message, dropping the connection when the client is too far
// behind to drain its queue.
func (s *Server) send(c *conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Stream marshal failed", "error", err)
		return
	}

	c.sendMu.Lock()
	if c.sendClosed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.sendCh <- data:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		s.logger.Warn("Stream client too slow, dropping connection", "conn", c.id)
		s.dropConn(c)
	}
}

func (s *Server) sendError(c *conn, code, message string) {
	s.send(c, errorMessage{Type: "error", Code: code, Message: message})
}

func (s *Server) readLoop(c *conn) {
	defer s.dropConn(c)

	scanner := bufio.NewScanner(c.netConn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			s.sendError(c, ErrProtocol, "invalid JSON")
			continue
		}
		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *conn, msg clientMessage) {
	switch msg.Type {
	case "subscribe", "resize":
		s.handleSubscribe(c, msg)

	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, msg.WindowID)
		c.mu.Unlock()

	case "input":
		s.handleInput(c, msg)

	case "focus":
		// Focus is advisory; nothing to do server-side.

	default:
		s.sendError(c, ErrProtocol, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) handleSubscribe(c *conn, msg clientMessage) {
	if msg.WindowID == "" {
		s.sendError(c, ErrProtocol, "windowId is required")
		return
	}
	if !s.source.WindowExists(msg.WindowID) {
		s.sendError(c, ErrUnknownWindow, fmt.Sprintf("window %q not found", msg.WindowID))
		return
	}

	sub := &subscription{
		windowID: msg.WindowID,
		cols:     msg.Cols,
		rows:     msg.Rows,
		plain:    msg.Format == "plain",
	}

	c.mu.Lock()
	if prev, ok := c.subs[msg.WindowID]; ok {
		// Resize keeps the sequence counter so the client sees continuity.
		sub.seq = prev.seq
		sub.exited = prev.exited
	}
	c.subs[msg.WindowID] = sub
	c.mu.Unlock()

	s.flushSub(c, sub, true)
}

func (s *Server) handleInput(c *conn, msg clientMessage) {
	c.mu.Lock()
	sub, ok := c.subs[msg.WindowID]
	exited := ok && sub.exited
	c.mu.Unlock()

	if exited {
		s.sendError(c, ErrWindowMissing, fmt.Sprintf("window %q has exited", msg.WindowID))
		return
	}
	if !s.source.WindowExists(msg.WindowID) {
		s.sendError(c, ErrUnknownWindow, fmt.Sprintf("window %q not found", msg.WindowID))
		return
	}

	data, err := base64.StdEncoding.DecodeString(msg.BytesBase64)
	if err != nil {
		s.sendError(c, ErrProtocol, "invalid base64 input")
		return
	}
	if err := s.source.WriteInput(msg.WindowID, data); err != nil {
		s.sendError(c, ErrWindowMissing, err.Error())
	}
}

// NotifyFrame flushes the window's new frame to every subscriber. Wire this
// to the runtime's frame observer.
func (s *Server) NotifyFrame(windowID string) {
	for _, pair := range s.subscribers(windowID) {
		s.flushSub(pair.c, pair.sub, false)
	}
}

// NotifyExit sends the final frame plus a window-exit message to every
// subscriber. Subscriptions are retained so late reads still see the frame.
func (s *Server) NotifyExit(windowID string, exitCode *int, signal string) {
	for _, pair := range s.subscribers(windowID) {
		s.flushSub(pair.c, pair.sub, true)

		pair.c.mu.Lock()
		pair.sub.exited = true
		pair.c.mu.Unlock()

		s.send(pair.c, exitMessage{
			Type:     "window-exit",
			WindowID: windowID,
			ExitCode: exitCode,
			Signal:   signal,
		})
	}
}

type subPair struct {
	c   *conn
	sub *subscription
}

func (s *Server) subscribers(windowID string) []subPair {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var pairs []subPair
	for _, c := range conns {
		c.mu.Lock()
		if sub, ok := c.subs[windowID]; ok {
			pairs = append(pairs, subPair{c: c, sub: sub})
		}
		c.mu.Unlock()
	}
	return pairs
}

// flushSub renders the subscription's frame and emits a full frame or a
// patch. force bypasses coalescing (initial subscribe, exit).
func (s *Server) flushSub(c *conn, sub *subscription, force bool) {
	frame, err := s.source.WindowFrame(sub.windowID, sub.cols, sub.rows)
	if err != nil {
		c.mu.Lock()
		already := sub.runtimeErrOn
		sub.runtimeErrOn = true
		c.mu.Unlock()
		if !already {
			s.sendError(c, ErrRuntimeError, err.Error())
		}
		return
	}

	sigs := make([]uint64, len(frame.Lines))
	for i, line := range frame.Lines {
		sigs[i] = lineSignature(line)
	}
	cursor := [3]int{frame.CursorRow, frame.CursorCol, boolInt(frame.CursorVisible)}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub.runtimeErrOn = false

	changed := changedLines(sub.lastLines, sigs)
	substantive := !sub.hasPrev || len(changed) > 0 || cursor != sub.lastCursor

	if !force && !substantive && time.Since(sub.lastEmit) < minEmitInterval {
		return
	}
	if !force && !substantive {
		// Outside the coalescing window but still nothing to say.
		return
	}

	sub.seq++
	usePatch := sub.hasPrev && len(sub.lastLines) == len(sigs) &&
		float64(len(changed))/float64(maxInt(len(sigs), 1)) <= patchThreshold &&
		len(changed) > 0

	if usePatch {
		if sub.plain {
			ops := make([]plainPatchOp, 0, len(changed))
			for _, idx := range changed {
				ops = append(ops, plainPatchOp{Index: idx, Text: frame.Lines[idx].Text()})
			}
			s.send(c, plainPatchMessage{
				Type: "patch", Seq: sub.seq, WindowID: sub.windowID,
				LineCount: len(frame.Lines),
				CursorRow: frame.CursorRow, CursorCol: frame.CursorCol,
				CursorVisible: frame.CursorVisible, Ops: ops,
			})
		} else {
			ops := make([]styledPatchOp, 0, len(changed))
			for _, idx := range changed {
				ops = append(ops, styledPatchOp{Index: idx, Line: frame.Lines[idx]})
			}
			s.send(c, styledPatchMessage{
				Type: "patch-styled", Seq: sub.seq, WindowID: sub.windowID,
				LineCount: len(frame.Lines),
				CursorRow: frame.CursorRow, CursorCol: frame.CursorCol,
				CursorVisible: frame.CursorVisible, Ops: ops,
			})
		}
	} else {
		if sub.plain {
			lines := make([]string, len(frame.Lines))
			for i, line := range frame.Lines {
				lines[i] = line.Text()
			}
			s.send(c, frameMessage{
				Type: "frame", Seq: sub.seq, WindowID: sub.windowID,
				Lines:     lines,
				CursorRow: frame.CursorRow, CursorCol: frame.CursorCol,
				CursorVisible: frame.CursorVisible,
			})
		} else {
			s.send(c, styledFrameMessage{
				Type: "frame-styled", Seq: sub.seq, WindowID: sub.windowID,
				Lines:     frame.Lines,
				CursorRow: frame.CursorRow, CursorCol: frame.CursorCol,
				CursorVisible: frame.CursorVisible,
				LineCount:     len(frame.Lines),
			})
		}
	}

	sub.lastLines = sigs
	sub.lastCursor = cursor
	sub.hasPrev = true
	sub.lastEmit = time.Now()
}

// lineSignature hashes a styled line's segments for cheap change detection.
func lineSignature(line vt.Line) uint64 {
	h := fnv.New64a()
	for _, seg := range line.Segments {
		h.Write([]byte(seg.Text))
		h.Write([]byte{0})
		h.Write([]byte(seg.FG))
		h.Write([]byte{0})
		h.Write([]byte(seg.BG))
		flags := byte(0)
		if seg.Bold {
			flags |= 1
		}
		if seg.Italic {
			flags |= 2
		}
		if seg.Underline {
			flags |= 4
		}
		h.Write([]byte{flags})
	}
	return h.Sum64()
}

func changedLines(prev, next []uint64) []int {
	var changed []int
	for i := range next {
		if i >= len(prev) || prev[i] != next[i] {
			changed = append(changed, i)
		}
	}
	for i := len(next); i < len(prev); i++ {
		changed = append(changed, i)
	}
	return changed
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
