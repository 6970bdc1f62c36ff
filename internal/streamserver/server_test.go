package streamserver

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/discode-sh/discode/internal/vt"
)

// fakeSource is an in-memory window backend.
type fakeSource struct {
	mu       sync.Mutex
	windows  map[string][]string
	inputs   map[string][]byte
	frameErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		windows: make(map[string][]string),
		inputs:  make(map[string][]byte),
	}
}

func (f *fakeSource) setLines(windowID string, lines ...string) {
	f.mu.Lock()
	f.windows[windowID] = lines
	f.mu.Unlock()
}

func (f *fakeSource) WindowExists(windowID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.windows[windowID]
	return ok
}

func (f *fakeSource) WindowFrame(windowID string, cols, rows int) (vt.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frameErr != nil {
		return vt.Frame{}, f.frameErr
	}
	texts := f.windows[windowID]
	lines := make([]vt.Line, len(texts))
	for i, text := range texts {
		lines[i] = vt.Line{Segments: []vt.Segment{{Text: text}}}
	}
	return vt.Frame{Cols: cols, Rows: rows, Lines: lines, CursorVisible: true}, nil
}

func (f *fakeSource) WriteInput(windowID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[windowID] = append(f.inputs[windowID], data...)
	return nil
}

type testClient struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func startServer(t *testing.T, source Source) *Server {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "stream.sock")
	srv := New(socket, source, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", srv.SocketPath())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &testClient{conn: conn, scanner: sc}
}

func (c *testClient) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads one server message as a generic map.
func (c *testClient) next(t *testing.T) map[string]any {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if !c.scanner.Scan() {
		t.Fatalf("no message from server: %v", c.scanner.Err())
	}
	var msg map[string]any
	if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
		t.Fatalf("bad server JSON %q: %v", c.scanner.Text(), err)
	}
	return msg
}

func TestSubscribeSendsInitialStyledFrame(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "hello", "world")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 24})

	msg := client.next(t)
	if msg["type"] != "frame-styled" {
		t.Fatalf("type = %v, want frame-styled", msg["type"])
	}
	if msg["windowId"] != "proj:agent" {
		t.Errorf("windowId = %v", msg["windowId"])
	}
	if msg["seq"].(float64) != 1 {
		t.Errorf("seq = %v, want 1", msg["seq"])
	}
	lines := msg["lines"].([]any)
	if len(lines) != 2 {
		t.Errorf("lines = %d, want 2", len(lines))
	}
}

func TestSubscribePlainFormat(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "plain line")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{
		"type": "subscribe", "windowId": "proj:agent",
		"cols": 80, "rows": 24, "format": "plain",
	})

	msg := client.next(t)
	if msg["type"] != "frame" {
		t.Fatalf("type = %v, want frame", msg["type"])
	}
	lines := msg["lines"].([]any)
	if lines[0] != "plain line" {
		t.Errorf("lines[0] = %v", lines[0])
	}
}

func TestSubscribeUnknownWindow(t *testing.T) {
	srv := startServer(t, newFakeSource())

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "missing:window", "cols": 80, "rows": 24})

	msg := client.next(t)
	if msg["type"] != "error" || msg["code"] != ErrUnknownWindow {
		t.Errorf("got %v, want unknown_window error", msg)
	}
}

func TestInvalidJSONReturnsProtocolError(t *testing.T) {
	srv := startServer(t, newFakeSource())

	client := dial(t, srv)
	if _, err := client.conn.Write([]byte("{nope\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := client.next(t)
	if msg["type"] != "error" || msg["code"] != ErrProtocol {
		t.Errorf("got %v, want protocol_error", msg)
	}
}

func TestPatchWhenFewLinesChange(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "line0", "line1", "line2", "line3", "line4",
		"line5", "line6", "line7", "line8", "line9")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 10})
	if msg := client.next(t); msg["type"] != "frame-styled" {
		t.Fatalf("initial type = %v", msg["type"])
	}

	source.setLines("proj:agent", "line0", "CHANGED", "line2", "line3", "line4",
		"line5", "line6", "line7", "line8", "line9")
	srv.NotifyFrame("proj:agent")

	msg := client.next(t)
	if msg["type"] != "patch-styled" {
		t.Fatalf("type = %v, want patch-styled", msg["type"])
	}
	ops := msg["ops"].([]any)
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want 1", len(ops))
	}
	op := ops[0].(map[string]any)
	if op["index"].(float64) != 1 {
		t.Errorf("op index = %v, want 1", op["index"])
	}
	if msg["seq"].(float64) != 2 {
		t.Errorf("seq = %v, want 2", msg["seq"])
	}
}

func TestFullFrameWhenMostLinesChange(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "a", "b", "c", "d")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 4})
	client.next(t)

	source.setLines("proj:agent", "w", "x", "y", "z")
	srv.NotifyFrame("proj:agent")

	msg := client.next(t)
	if msg["type"] != "frame-styled" {
		t.Errorf("type = %v, want frame-styled for a full rewrite", msg["type"])
	}
}

func TestInputForwardedToSource(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "ready")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 24})
	client.next(t)

	payload := base64.StdEncoding.EncodeToString([]byte("ls -la\r"))
	client.sendJSON(t, map[string]any{"type": "input", "windowId": "proj:agent", "bytesBase64": payload})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		source.mu.Lock()
		got := string(source.inputs["proj:agent"])
		source.mu.Unlock()
		if got == "ls -la\r" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("input never reached the source")
}

func TestInputAfterExitReturnsWindowMissing(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "done")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 24})
	client.next(t)

	code := 0
	srv.NotifyExit("proj:agent", &code, "")

	// Final frame (coalesced or full) then window-exit.
	var sawExit bool
	for i := 0; i < 3 && !sawExit; i++ {
		msg := client.next(t)
		if msg["type"] == "window-exit" {
			sawExit = true
			if msg["exitCode"].(float64) != 0 {
				t.Errorf("exitCode = %v, want 0", msg["exitCode"])
			}
		}
	}
	if !sawExit {
		t.Fatal("no window-exit message")
	}

	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	client.sendJSON(t, map[string]any{"type": "input", "windowId": "proj:agent", "bytesBase64": payload})

	msg := client.next(t)
	if msg["type"] != "error" || msg["code"] != ErrWindowMissing {
		t.Errorf("got %v, want window_missing error", msg)
	}
}

func TestUnsubscribeStopsFrames(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "content")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 24})
	client.next(t)

	client.sendJSON(t, map[string]any{"type": "unsubscribe", "windowId": "proj:agent"})

	// Give the unsubscribe time to land before mutating.
	time.Sleep(50 * time.Millisecond)
	source.setLines("proj:agent", "changed")
	srv.NotifyFrame("proj:agent")

	client.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if client.scanner.Scan() {
		t.Errorf("unexpected message after unsubscribe: %s", client.scanner.Text())
	}
}

func TestRuntimeErrorEmittedOnce(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "ok")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 24})
	client.next(t)

	source.mu.Lock()
	source.frameErr = fmt.Errorf("render blew up")
	source.mu.Unlock()

	srv.NotifyFrame("proj:agent")
	srv.NotifyFrame("proj:agent")

	msg := client.next(t)
	if msg["type"] != "error" || msg["code"] != ErrRuntimeError {
		t.Fatalf("got %v, want runtime_error", msg)
	}

	// Recovery resets the once-guard and frames flow again.
	source.mu.Lock()
	source.frameErr = nil
	source.mu.Unlock()
	source.setLines("proj:agent", "recovered")
	srv.NotifyFrame("proj:agent")

	msg = client.next(t)
	if msg["type"] != "frame-styled" && msg["type"] != "patch-styled" {
		t.Errorf("after recovery got %v, want a frame", msg["type"])
	}
}

func TestSeqMonotonicPerSubscription(t *testing.T) {
	source := newFakeSource()
	source.setLines("proj:agent", "v0")
	srv := startServer(t, source)

	client := dial(t, srv)
	client.sendJSON(t, map[string]any{"type": "subscribe", "windowId": "proj:agent", "cols": 80, "rows": 24})

	last := float64(0)
	for i := 1; i <= 4; i++ {
		if i > 1 {
			source.setLines("proj:agent", fmt.Sprintf("v%d", i))
			srv.NotifyFrame("proj:agent")
		}
		msg := client.next(t)
		seq := msg["seq"].(float64)
		if seq <= last {
			t.Errorf("seq %v not greater than %v", seq, last)
		}
		last = seq
	}
}

func TestSendAfterDropIsIgnored(t *testing.T) {
	srv := New(filepath.Join(t.TempDir(), "drop.sock"), newFakeSource(), nil)

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	c := &conn{
		id:      "c-drop",
		netConn: serverEnd,
		sendCh:  make(chan []byte, sendQueueSize),
		subs:    make(map[string]*subscription),
	}
	srv.mu.Lock()
	srv.conns[c] = struct{}{}
	srv.mu.Unlock()

	srv.dropConn(c)
	srv.send(c, errorMessage{Type: "error", Code: "late", Message: "after drop"})
}

func TestSendRacingDropConn(t *testing.T) {
	srv := New(filepath.Join(t.TempDir(), "race.sock"), newFakeSource(), nil)

	for i := 0; i < 50; i++ {
		clientEnd, serverEnd := net.Pipe()

		c := &conn{
			id:      fmt.Sprintf("c-%d", i),
			netConn: serverEnd,
			sendCh:  make(chan []byte, sendQueueSize),
			subs:    make(map[string]*subscription),
		}
		srv.mu.Lock()
		srv.conns[c] = struct{}{}
		srv.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				srv.send(c, errorMessage{Type: "error", Code: "race", Message: "msg"})
			}
		}()
		go func() {
			defer wg.Done()
			srv.dropConn(c)
		}()
		wg.Wait()
		clientEnd.Close()
	}
}
