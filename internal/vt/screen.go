package vt

import "strings"

// Size bounds enforced on every screen.
const (
	MinCols = 20
	MaxCols = 300
	MinRows = 6
	MaxRows = 200
)

// DefaultScrollback is the default number of retained lines (history plus
// the visible viewport) on the primary buffer.
const DefaultScrollback = 2000

// Style is the rendition applied to a cell.
type Style struct {
	FG        string
	BG        string
	Bold      bool
	Italic    bool
	Underline bool
	Inverse   bool
}

// Cell holds one displayable grapheme cluster. Combining marks and ZWJ
// continuations append to Char. The spacer cell behind a wide character has
// an empty Char.
type Cell struct {
	Char  string
	Style Style
}

// savedScreen snapshots the primary buffer while the alternate screen is
// active.
type savedScreen struct {
	lines         [][]Cell
	cursorRow     int
	cursorCol     int
	savedRow      int
	savedCol      int
	style         Style
	scrollTop     int
	scrollBottom  int
	originMode    bool
	cursorVisible bool
}

// Screen is a VT-100 style terminal emulator with scrollback.
//
// Cursor coordinates are viewport-relative; on the primary buffer the
// viewport is the last rows entries of lines.
type Screen struct {
	cols, rows int
	scrollback int

	lines [][]Cell

	cursorRow, cursorCol int
	savedRow, savedCol   int
	style                Style

	usingAlt     bool
	savedPrimary *savedScreen

	scrollTop, scrollBottom int
	wrapPending             bool
	originMode              bool
	cursorVisible           bool

	privateModes map[int]bool

	carry      []byte
	unknownSeq int
}

// NewScreen creates a screen with the default scrollback budget.
func NewScreen(cols, rows int) *Screen {
	return NewScreenWithScrollback(cols, rows, DefaultScrollback)
}

// NewScreenWithScrollback creates a screen with a custom scrollback limit.
// Dimensions are clamped to the supported bounds; scrollback is at least
// rows*4.
func NewScreenWithScrollback(cols, rows, scrollback int) *Screen {
	cols = clampInt(cols, MinCols, MaxCols)
	rows = clampInt(rows, MinRows, MaxRows)
	if scrollback < rows*4 {
		scrollback = rows * 4
	}

	s := &Screen{
		cols:          cols,
		rows:          rows,
		scrollback:    scrollback,
		cursorVisible: true,
		scrollBottom:  rows - 1,
		privateModes:  make(map[int]bool),
	}
	s.lines = blankLines(rows, cols, Style{})
	return s
}

// Size returns the current dimensions.
func (s *Screen) Size() (cols, rows int) {
	return s.cols, s.rows
}

// UnknownSequences returns the count of escapes the parser skipped.
func (s *Screen) UnknownSequences() int {
	return s.unknownSeq
}

// Write consumes a chunk of terminal output. Incomplete trailing escape
// sequences are carried into the next call, so frames never observe a
// partially applied escape.
func (s *Screen) Write(data []byte) {
	input := data
	if len(s.carry) > 0 {
		input = append(s.carry, data...)
		s.carry = nil
	}

	acts, carry, unknown := parse(input)
	s.carry = carry
	s.unknownSeq += unknown

	for _, act := range acts {
		s.apply(act)
	}
}

func (s *Screen) apply(act action) {
	switch act.typ {
	case actPrint:
		s.writeRune(act.ch)
	case actCR:
		s.cursorCol = 0
		s.wrapPending = false
	case actLF:
		s.wrapPending = false
		s.lineFeed()
	case actBS:
		s.wrapPending = false
		if s.cursorCol > 0 {
			s.cursorCol--
		}
	case actTab:
		s.wrapPending = false
		next := (s.cursorCol/8 + 1) * 8
		if next > s.cols-1 {
			next = s.cols - 1
		}
		s.cursorCol = next
	case actDECSC:
		s.savedRow = s.cursorRow
		s.savedCol = s.cursorCol
		s.wrapPending = false
	case actDECRC:
		s.cursorRow = clampInt(s.savedRow, 0, s.rows-1)
		s.cursorCol = clampInt(s.savedCol, 0, s.cols-1)
		s.wrapPending = false
	case actRIS:
		s.reset()
	case actIndex:
		s.wrapPending = false
		s.lineFeed()
	case actNextLine:
		s.wrapPending = false
		s.cursorCol = 0
		s.lineFeed()
	case actReverseIndex:
		s.wrapPending = false
		s.reverseIndex()
	case actCSI:
		s.doCSI(act)
	}
}

// viewBase returns the lines index of the first visible row.
func (s *Screen) viewBase() int {
	base := len(s.lines) - s.rows
	if base < 0 {
		return 0
	}
	return base
}

// line returns the cells of viewport row r.
func (s *Screen) line(r int) []Cell {
	return s.lines[s.viewBase()+r]
}

func (s *Screen) setLine(r int, cells []Cell) {
	s.lines[s.viewBase()+r] = cells
}

func (s *Screen) writeRune(r rune) {
	if s.rows == 0 || s.cols == 0 {
		return
	}

	width := cellWidth(r)
	if width == 0 {
		s.appendCombining(r)
		return
	}

	// A printable following a ZWJ continues the previous cell's cluster
	// instead of starting a new cell.
	if prev := s.prevCell(); prev != nil && strings.HasSuffix(prev.Char, "\u200d") {
		prev.Char += string(r)
		return
	}

	if s.wrapPending {
		s.cursorCol = 0
		s.wrapPending = false
		s.lineFeed()
	}

	if s.cursorCol >= s.cols {
		s.cursorCol = 0
		s.lineFeed()
	}

	// A wide character never splits across the right edge.
	if width == 2 && s.cursorCol == s.cols-1 {
		s.cursorCol = 0
		s.lineFeed()
	}

	row := s.line(s.cursorRow)
	row[s.cursorCol] = Cell{Char: string(r), Style: s.style}
	if width == 2 && s.cursorCol+1 < s.cols {
		row[s.cursorCol+1] = Cell{Char: "", Style: s.style}
	}

	next := s.cursorCol + width
	if next >= s.cols {
		s.cursorCol = s.cols - 1
		s.wrapPending = true
	} else {
		s.cursorCol = next
	}
}

// prevCell returns the cell the last printable landed in, or nil at the
// start of a row.
func (s *Screen) prevCell() *Cell {
	col := s.cursorCol
	if !s.wrapPending {
		if col == 0 {
			return nil
		}
		col--
	}

	row := s.line(s.cursorRow)
	// Step over a wide-character spacer.
	if row[col].Char == "" && col > 0 {
		col--
	}
	return &row[col]
}

// appendCombining joins a zero-width rune onto the previously written cell.
func (s *Screen) appendCombining(r rune) {
	if prev := s.prevCell(); prev != nil {
		prev.Char += string(r)
		return
	}
	s.line(s.cursorRow)[s.cursorCol].Char += string(r)
}

func (s *Screen) lineFeed() {
	if s.cursorRow >= s.scrollTop && s.cursorRow <= s.scrollBottom {
		if s.cursorRow == s.scrollBottom {
			s.scrollUp(s.scrollTop, s.scrollBottom, 1)
		} else {
			s.cursorRow++
		}
		return
	}
	if s.cursorRow < s.rows-1 {
		s.cursorRow++
	}
}

func (s *Screen) reverseIndex() {
	if s.cursorRow >= s.scrollTop && s.cursorRow <= s.scrollBottom {
		if s.cursorRow == s.scrollTop {
			s.scrollDown(s.scrollTop, s.scrollBottom, 1)
		} else {
			s.cursorRow--
		}
		return
	}
	if s.cursorRow > 0 {
		s.cursorRow--
	}
}

// scrollUp scrolls rows [top, bottom] up by count. On the primary buffer
// with a full-height region, the retired top line moves into scrollback;
// otherwise it is discarded.
func (s *Screen) scrollUp(top, bottom, count int) {
	if top > bottom || bottom >= s.rows {
		return
	}
	n := clampInt(count, 1, bottom-top+1)

	fullRegion := top == 0 && bottom == s.rows-1
	if fullRegion && !s.usingAlt {
		for i := 0; i < n; i++ {
			s.lines = append(s.lines, blankRow(s.cols, Style{}))
		}
		if over := len(s.lines) - s.scrollback; over > 0 {
			s.lines = s.lines[over:]
		}
		return
	}

	base := s.viewBase()
	for i := 0; i < n; i++ {
		copy(s.lines[base+top:base+bottom+1], s.lines[base+top+1:base+bottom+1])
		s.lines[base+bottom] = blankRow(s.cols, Style{})
	}
}

// scrollDown scrolls rows [top, bottom] down by count.
func (s *Screen) scrollDown(top, bottom, count int) {
	if top > bottom || bottom >= s.rows {
		return
	}
	n := clampInt(count, 1, bottom-top+1)

	base := s.viewBase()
	for i := 0; i < n; i++ {
		copy(s.lines[base+top+1:base+bottom+1], s.lines[base+top:base+bottom])
		s.lines[base+top] = blankRow(s.cols, Style{})
	}
}

func (s *Screen) doCSI(act action) {
	if act.inter != "" {
		// Intermediate bytes (DECRQM queries and friends) are the
		// responder's business; the screen skips them.
		s.unknownSeq++
		return
	}

	params := act.params
	switch act.final {
	case 'A':
		n := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorRow = clampInt(s.cursorRow-n, 0, s.rows-1)
	case 'B':
		n := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorRow = clampInt(s.cursorRow+n, 0, s.rows-1)
	case 'C':
		n := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorCol = clampInt(s.cursorCol+n, 0, s.cols-1)
	case 'D':
		n := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorCol = clampInt(s.cursorCol-n, 0, s.cols-1)
	case 'E':
		n := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorCol = 0
		s.cursorRow = clampInt(s.cursorRow+n, 0, s.rows-1)
	case 'F':
		n := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorCol = 0
		s.cursorRow = clampInt(s.cursorRow-n, 0, s.rows-1)
	case 'G':
		col := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorCol = clampInt(col-1, 0, s.cols-1)
	case 'd':
		row := max1(paramOr(params, 0, 1))
		s.wrapPending = false
		s.cursorRow = clampInt(row-1, 0, s.rows-1)
	case 'H', 'f':
		row := max1(paramOr(params, 0, 1))
		col := max1(paramOr(params, 1, 1))
		s.wrapPending = false
		target := row - 1
		if s.originMode {
			target += s.scrollTop
			target = clampInt(target, s.scrollTop, s.scrollBottom)
		}
		s.cursorRow = clampInt(target, 0, s.rows-1)
		s.cursorCol = clampInt(col-1, 0, s.cols-1)
	case 'J':
		s.wrapPending = false
		s.eraseDisplay(paramOr(params, 0, 0))
	case 'K':
		s.wrapPending = false
		s.eraseLine(paramOr(params, 0, 0))
	case 'm':
		s.applySGR(params)
	case 'r':
		if act.private {
			return
		}
		top := max1(paramOr(params, 0, 1))
		bottom := max1(paramOr(params, 1, s.rows))
		top0 := clampInt(top-1, 0, s.rows-1)
		bottom0 := clampInt(bottom-1, 0, s.rows-1)
		if top0 < bottom0 {
			s.scrollTop = top0
			s.scrollBottom = bottom0
			s.cursorRow = top0
			s.cursorCol = 0
			s.wrapPending = false
		}
	case '@':
		s.insertChars(max1(paramOr(params, 0, 1)))
	case 'P':
		s.deleteChars(max1(paramOr(params, 0, 1)))
	case 'X':
		s.eraseChars(max1(paramOr(params, 0, 1)))
	case 'L':
		s.insertLines(max1(paramOr(params, 0, 1)))
	case 'M':
		s.deleteLines(max1(paramOr(params, 0, 1)))
	case 'S':
		s.scrollUp(s.scrollTop, s.scrollBottom, max1(paramOr(params, 0, 1)))
	case 'T':
		s.scrollDown(s.scrollTop, s.scrollBottom, max1(paramOr(params, 0, 1)))
	case 's':
		s.savedRow = s.cursorRow
		s.savedCol = s.cursorCol
		s.wrapPending = false
	case 'u':
		s.cursorRow = clampInt(s.savedRow, 0, s.rows-1)
		s.cursorCol = clampInt(s.savedCol, 0, s.cols-1)
		s.wrapPending = false
	case 'h', 'l':
		if !act.private {
			return
		}
		set := act.final == 'h'
		for _, code := range params {
			if code < 0 {
				continue
			}
			s.setPrivateMode(code, set)
		}
		s.wrapPending = false
	default:
		s.unknownSeq++
	}
}

func (s *Screen) setPrivateMode(code int, set bool) {
	s.privateModes[code] = set

	switch code {
	case 25:
		s.cursorVisible = set
	case 6:
		s.originMode = set
		s.cursorCol = 0
		if set {
			s.cursorRow = s.scrollTop
		} else {
			s.cursorRow = 0
		}
	case 1049, 1047, 47:
		if set {
			s.enterAltScreen()
		} else {
			s.leaveAltScreen()
		}
	}
}

func (s *Screen) enterAltScreen() {
	if s.usingAlt {
		return
	}

	s.savedPrimary = &savedScreen{
		lines:         s.lines,
		cursorRow:     s.cursorRow,
		cursorCol:     s.cursorCol,
		savedRow:      s.savedRow,
		savedCol:      s.savedCol,
		style:         s.style,
		scrollTop:     s.scrollTop,
		scrollBottom:  s.scrollBottom,
		originMode:    s.originMode,
		cursorVisible: s.cursorVisible,
	}

	s.usingAlt = true
	s.lines = blankLines(s.rows, s.cols, s.style)
	s.cursorRow = 0
	s.cursorCol = 0
	s.savedRow = 0
	s.savedCol = 0
	s.scrollTop = 0
	s.scrollBottom = s.rows - 1
	s.wrapPending = false
}

func (s *Screen) leaveAltScreen() {
	if !s.usingAlt || s.savedPrimary == nil {
		return
	}

	saved := s.savedPrimary
	s.savedPrimary = nil
	s.usingAlt = false

	s.lines = saved.lines
	s.cursorRow = clampInt(saved.cursorRow, 0, s.rows-1)
	s.cursorCol = clampInt(saved.cursorCol, 0, s.cols-1)
	s.savedRow = clampInt(saved.savedRow, 0, s.rows-1)
	s.savedCol = clampInt(saved.savedCol, 0, s.cols-1)
	s.style = saved.style
	s.scrollTop = clampInt(saved.scrollTop, 0, s.rows-1)
	s.scrollBottom = clampInt(saved.scrollBottom, 0, s.rows-1)
	s.originMode = saved.originMode
	s.cursorVisible = saved.cursorVisible
	s.wrapPending = false
}

func (s *Screen) eraseDisplay(mode int) {
	switch mode {
	case 0:
		s.eraseLine(0)
		for r := s.cursorRow + 1; r < s.rows; r++ {
			s.setLine(r, blankRow(s.cols, Style{}))
		}
	case 1:
		for r := 0; r < s.cursorRow; r++ {
			s.setLine(r, blankRow(s.cols, Style{}))
		}
		s.eraseLine(1)
	case 2, 3:
		for r := 0; r < s.rows; r++ {
			s.setLine(r, blankRow(s.cols, Style{}))
		}
	}
}

func (s *Screen) eraseLine(mode int) {
	row := s.line(s.cursorRow)
	switch mode {
	case 0:
		for c := s.cursorCol; c < s.cols; c++ {
			row[c] = blankCell(Style{})
		}
	case 1:
		end := clampInt(s.cursorCol, 0, s.cols-1)
		for c := 0; c <= end; c++ {
			row[c] = blankCell(Style{})
		}
	case 2:
		s.setLine(s.cursorRow, blankRow(s.cols, Style{}))
	}
}

// insertChars shifts cells right from the cursor, clipping at cols.
func (s *Screen) insertChars(n int) {
	row := s.line(s.cursorRow)
	if n > s.cols-s.cursorCol {
		n = s.cols - s.cursorCol
	}
	copy(row[s.cursorCol+n:], row[s.cursorCol:s.cols-n])
	for c := s.cursorCol; c < s.cursorCol+n; c++ {
		row[c] = blankCell(Style{})
	}
}

// deleteChars shifts cells left into the cursor, padding on the right.
func (s *Screen) deleteChars(n int) {
	row := s.line(s.cursorRow)
	if n > s.cols-s.cursorCol {
		n = s.cols - s.cursorCol
	}
	copy(row[s.cursorCol:], row[s.cursorCol+n:])
	for c := s.cols - n; c < s.cols; c++ {
		row[c] = blankCell(Style{})
	}
}

func (s *Screen) eraseChars(n int) {
	row := s.line(s.cursorRow)
	end := s.cursorCol + n
	if end > s.cols {
		end = s.cols
	}
	for c := s.cursorCol; c < end; c++ {
		row[c] = blankCell(Style{})
	}
}

func (s *Screen) insertLines(n int) {
	if s.cursorRow < s.scrollTop || s.cursorRow > s.scrollBottom {
		return
	}
	s.scrollDown(s.cursorRow, s.scrollBottom, n)
}

func (s *Screen) deleteLines(n int) {
	if s.cursorRow < s.scrollTop || s.cursorRow > s.scrollBottom {
		return
	}
	s.scrollUp(s.cursorRow, s.scrollBottom, n)
}

func (s *Screen) applySGR(params []int) {
	i := 0
	for i < len(params) {
		code := params[i]
		if code < 0 {
			code = 0
		}

		switch {
		case code == 0:
			s.style = Style{}
		case code == 1:
			s.style.Bold = true
		case code == 3:
			s.style.Italic = true
		case code == 4:
			s.style.Underline = true
		case code == 7:
			s.style.Inverse = true
		case code == 22:
			s.style.Bold = false
		case code == 23:
			s.style.Italic = false
		case code == 24:
			s.style.Underline = false
		case code == 27:
			s.style.Inverse = false
		case code >= 30 && code <= 37:
			s.style.FG = Ansi16Color(code - 30)
		case code == 39:
			s.style.FG = ""
		case code >= 40 && code <= 47:
			s.style.BG = Ansi16Color(code - 40)
		case code == 49:
			s.style.BG = ""
		case code >= 90 && code <= 97:
			s.style.FG = Ansi16Color(code - 90 + 8)
		case code >= 100 && code <= 107:
			s.style.BG = Ansi16Color(code - 100 + 8)
		case code == 38 || code == 48:
			isFG := code == 38
			mode := paramOr(params, i+1, -1)
			if mode == 2 {
				r := paramOr(params, i+2, -1)
				g := paramOr(params, i+3, -1)
				b := paramOr(params, i+4, -1)
				if r >= 0 && g >= 0 && b >= 0 {
					color := RGBHex(r, g, b)
					if isFG {
						s.style.FG = color
					} else {
						s.style.BG = color
					}
				}
				i += 4
			} else if mode == 5 {
				if color := Xterm256Color(paramOr(params, i+2, -1)); color != "" {
					if isFG {
						s.style.FG = color
					} else {
						s.style.BG = color
					}
				}
				i += 2
			}
		}
		i++
	}

	if len(params) == 0 {
		s.style = Style{}
	}
}

func (s *Screen) reset() {
	s.lines = blankLines(s.rows, s.cols, Style{})
	s.cursorRow = 0
	s.cursorCol = 0
	s.savedRow = 0
	s.savedCol = 0
	s.style = Style{}
	s.scrollTop = 0
	s.scrollBottom = s.rows - 1
	s.wrapPending = false
	s.originMode = false
	s.cursorVisible = true
	s.usingAlt = false
	s.savedPrimary = nil
	s.privateModes = make(map[int]bool)
}

// Resize pads or truncates every line to the new width, clamps the cursor,
// refits the scroll region, and grows the scrollback budget when needed.
func (s *Screen) Resize(cols, rows int) {
	cols = clampInt(cols, MinCols, MaxCols)
	rows = clampInt(rows, MinRows, MaxRows)
	if cols == s.cols && rows == s.rows {
		return
	}

	fullRegion := s.scrollTop == 0 && s.scrollBottom == s.rows-1

	for i, row := range s.lines {
		s.lines[i] = fitRow(row, cols)
	}

	if s.usingAlt {
		for len(s.lines) < rows {
			s.lines = append(s.lines, blankRow(cols, Style{}))
		}
		s.lines = s.lines[:rows]
	} else {
		for len(s.lines) < rows {
			s.lines = append(s.lines, blankRow(cols, Style{}))
		}
	}

	if s.savedPrimary != nil {
		for i, row := range s.savedPrimary.lines {
			s.savedPrimary.lines[i] = fitRow(row, cols)
		}
	}

	s.cols = cols
	s.rows = rows
	if s.scrollback < rows*4 {
		s.scrollback = rows * 4
	}

	if fullRegion {
		s.scrollTop = 0
		s.scrollBottom = rows - 1
	} else {
		s.scrollBottom = clampInt(s.scrollBottom, 0, rows-1)
		s.scrollTop = clampInt(s.scrollTop, 0, s.scrollBottom)
	}

	s.cursorRow = clampInt(s.cursorRow, 0, rows-1)
	s.cursorCol = clampInt(s.cursorCol, 0, cols-1)
	s.savedRow = clampInt(s.savedRow, 0, rows-1)
	s.savedCol = clampInt(s.savedCol, 0, cols-1)
	s.wrapPending = false
}

func blankCell(style Style) Cell {
	return Cell{Char: " ", Style: style}
}

func blankRow(cols int, style Style) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = blankCell(style)
	}
	return row
}

func blankLines(rows, cols int, style Style) [][]Cell {
	lines := make([][]Cell, rows)
	for i := range lines {
		lines[i] = blankRow(cols, style)
	}
	return lines
}

func fitRow(row []Cell, cols int) []Cell {
	if len(row) == cols {
		return row
	}
	if len(row) > cols {
		return row[:cols]
	}
	out := make([]Cell, cols)
	copy(out, row)
	for i := len(row); i < cols; i++ {
		out[i] = blankCell(Style{})
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// trimTrailingBlank returns the index one past the last non-blank cell.
func trimTrailingBlank(row []Cell) int {
	end := len(row)
	for end > 0 && (row[end-1].Char == " " || row[end-1].Char == "") {
		end--
	}
	return end
}
