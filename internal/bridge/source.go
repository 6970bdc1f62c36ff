package bridge

import (
	"fmt"

	"github.com/discode-sh/discode/internal/ptyruntime"
	"github.com/discode-sh/discode/internal/state"
	"github.com/discode-sh/discode/internal/vt"
)

// runtimeSource adapts the PTY runtime to the stream server's window-id
// keyed Source interface.
type runtimeSource struct {
	runtime *ptyruntime.Runtime
}

func (s *runtimeSource) WindowExists(windowID string) bool {
	session, window, err := state.ParseWindowID(windowID)
	if err != nil {
		return false
	}
	return s.runtime.WindowExists(session, window)
}

func (s *runtimeSource) WindowFrame(windowID string, cols, rows int) (vt.Frame, error) {
	session, window, err := state.ParseWindowID(windowID)
	if err != nil {
		return vt.Frame{}, fmt.Errorf("bad window id: %w", err)
	}
	return s.runtime.GetWindowFrame(session, window, cols, rows)
}

func (s *runtimeSource) WriteInput(windowID string, data []byte) error {
	session, window, err := state.ParseWindowID(windowID)
	if err != nil {
		return fmt.Errorf("bad window id: %w", err)
	}
	return s.runtime.WriteInput(session, window, data)
}
