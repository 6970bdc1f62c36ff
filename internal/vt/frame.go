package vt

import "strings"

// Segment is a run of adjacent cells sharing one style.
type Segment struct {
	Text      string `json:"text"`
	FG        string `json:"fg,omitempty"`
	BG        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

// Line is one styled frame row.
type Line struct {
	Segments []Segment `json:"segments"`
}

// Frame is a rows x cols snapshot of the visible screen, suitable for a
// remote client to paint without re-parsing escapes.
type Frame struct {
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
	Lines         []Line `json:"lines"`
	CursorRow     int    `json:"cursorRow"`
	CursorCol     int    `json:"cursorCol"`
	CursorVisible bool   `json:"cursorVisible"`
}

// Text flattens a frame line back to plain text.
func (l Line) Text() string {
	var b strings.Builder
	for _, seg := range l.Segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// appliedStyle resolves the inverse attribute by swapping fg/bg, so frame
// segments never carry an inverse flag.
func appliedStyle(st Style) Style {
	if !st.Inverse {
		return st
	}
	return Style{
		FG:        st.BG,
		BG:        st.FG,
		Bold:      st.Bold,
		Italic:    st.Italic,
		Underline: st.Underline,
	}
}

// Snapshot renders the visible viewport as a styled frame. Trailing blank
// cells are trimmed per line; a fully blank line collapses to one empty
// segment.
func (s *Screen) Snapshot() Frame {
	lines := make([]Line, s.rows)
	for r := 0; r < s.rows; r++ {
		lines[r] = renderLine(s.line(r))
	}

	return Frame{
		Cols:          s.cols,
		Rows:          s.rows,
		Lines:         lines,
		CursorRow:     clampInt(s.cursorRow, 0, s.rows-1),
		CursorCol:     clampInt(s.cursorCol, 0, s.cols-1),
		CursorVisible: s.cursorVisible,
	}
}

func renderLine(row []Cell) Line {
	end := trimTrailingBlank(row)
	if end == 0 {
		return Line{Segments: []Segment{{Text: ""}}}
	}

	var segments []Segment
	var text strings.Builder
	current := appliedStyle(row[0].Style)

	flush := func() {
		segments = append(segments, styledSegment(text.String(), current))
		text.Reset()
	}

	for _, cell := range row[:end] {
		st := appliedStyle(cell.Style)
		if st != current {
			flush()
			current = st
		}
		text.WriteString(cell.Char)
	}
	flush()

	return Line{Segments: segments}
}

func styledSegment(text string, st Style) Segment {
	return Segment{
		Text:      text,
		FG:        st.FG,
		BG:        st.BG,
		Bold:      st.Bold,
		Italic:    st.Italic,
		Underline: st.Underline,
	}
}

// Buffer returns the visible screen as plain text with trailing blank
// lines trimmed.
func (s *Screen) Buffer() string {
	texts := make([]string, s.rows)
	last := -1
	for r := 0; r < s.rows; r++ {
		row := s.line(r)
		end := trimTrailingBlank(row)
		var b strings.Builder
		for _, cell := range row[:end] {
			b.WriteString(cell.Char)
		}
		texts[r] = b.String()
		if texts[r] != "" {
			last = r
		}
	}
	return strings.Join(texts[:last+1], "\n")
}

// RenderFrame builds a one-shot styled frame from a raw byte buffer at the
// requested size. Used when a caller wants a frame at a viewport that
// differs from the live window size.
func RenderFrame(buffer []byte, cols, rows int) Frame {
	s := NewScreen(cols, rows)
	s.Write(buffer)
	return s.Snapshot()
}
