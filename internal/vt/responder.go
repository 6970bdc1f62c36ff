package vt

import (
	"fmt"
	"strconv"
	"strings"
)

// WindowState is the per-window context a responder needs to answer
// position and size queries.
type WindowState struct {
	CursorRow int
	CursorCol int
	Cols      int
	Rows      int
}

// Responder answers terminal query sequences found in PTY output so
// full-screen agents keep running without a real terminal on the other
// end. One responder is attached per window; partial sequences are carried
// across chunks and DECSET/DECRST changes are tracked for later DECRQM
// queries.
type Responder struct {
	carry        []byte
	privateModes map[int]bool
}

// NewResponder creates a responder with no tracked modes.
func NewResponder() *Responder {
	return &Responder{privateModes: make(map[int]bool)}
}

// assumed cell size for pixel-dimension reports
const (
	cellWidthPx  = 8
	cellHeightPx = 16
)

// Respond scans a data chunk for query sequences and returns the bytes to
// write back to the PTY. A nil return means nothing to answer.
func (r *Responder) Respond(data []byte, st WindowState) []byte {
	input := data
	if len(r.carry) > 0 {
		input = append(r.carry, data...)
		r.carry = nil
	}

	var out []byte
	i := 0
	for i < len(input) {
		if input[i] != 0x1b {
			i++
			continue
		}
		if i+1 >= len(input) {
			r.carry = append(r.carry, input[i:]...)
			break
		}

		switch input[i+1] {
		case '[':
			j := i + 2
			for j < len(input) && !(input[j] >= 0x40 && input[j] <= 0x7e) {
				j++
			}
			if j >= len(input) {
				r.carry = append(r.carry, input[i:]...)
				return out
			}
			params, private, inter := parseCSIParams(string(input[i+2 : j]))
			out = append(out, r.answerCSI(params, private, inter, input[j], st)...)
			i = j + 1

		case ']':
			body, end, terminator, complete := scanString(input, i+2, true)
			if !complete {
				r.carry = append(r.carry, input[i:]...)
				return out
			}
			out = append(out, answerOSC(body, terminator)...)
			i = end

		case '_':
			body, end, _, complete := scanString(input, i+2, false)
			if !complete {
				r.carry = append(r.carry, input[i:]...)
				return out
			}
			out = append(out, answerAPC(body)...)
			i = end

		case 'P', 'X', '^':
			_, end, _, complete := scanString(input, i+2, false)
			if !complete {
				r.carry = append(r.carry, input[i:]...)
				return out
			}
			i = end

		default:
			i += 2
		}
	}

	return out
}

func (r *Responder) answerCSI(params []int, private bool, inter string, final byte, st WindowState) []byte {
	switch {
	case final == 'n' && paramOr(params, 0, 0) == 6:
		// Cursor position report; 1-based.
		if private {
			return []byte(fmt.Sprintf("\x1b[?%d;%dR", st.CursorRow+1, st.CursorCol+1))
		}
		return []byte(fmt.Sprintf("\x1b[%d;%dR", st.CursorRow+1, st.CursorCol+1))

	case final == 'n' && paramOr(params, 0, 0) == 5:
		// Device status: OK.
		return []byte("\x1b[0n")

	case final == 'p' && private && inter == "$":
		mode := paramOr(params, 0, 0)
		state := 2
		if enabled, tracked := r.privateModes[mode]; tracked {
			if enabled {
				state = 1
			}
		} else if mode == 7 || mode == 25 {
			// Autowrap and cursor visibility default to enabled.
			state = 1
		}
		return []byte(fmt.Sprintf("\x1b[?%d;%d$y", mode, state))

	case final == 'u' && private:
		// Kitty keyboard protocol query: no enhancements active.
		return []byte("\x1b[?0u")

	case final == 't' && paramOr(params, 0, 0) == 14:
		// Text area size in pixels.
		return []byte(fmt.Sprintf("\x1b[4;%d;%dt", st.Rows*cellHeightPx, st.Cols*cellWidthPx))

	case final == 'c' && !private && paramOr(params, 0, 0) == 0:
		// Primary device attributes: VT220 with color.
		return []byte("\x1b[?62;22c")

	case (final == 'h' || final == 'l') && private:
		set := final == 'h'
		for _, code := range params {
			if code >= 0 {
				r.privateModes[code] = set
			}
		}
		return nil
	}
	return nil
}

// scanString consumes an OSC/DCS/APC body. allowBEL permits the OSC BEL
// terminator in addition to ST. Returns the body, the index one past the
// terminator, and the terminator to mirror in a reply.
func scanString(data []byte, start int, allowBEL bool) (body string, end int, terminator string, complete bool) {
	j := start
	for j < len(data) {
		if allowBEL && data[j] == 0x07 {
			return string(data[start:j]), j + 1, "\x07", true
		}
		if data[j] == 0x1b {
			if j+1 >= len(data) {
				return "", 0, "", false
			}
			if data[j+1] == '\\' {
				return string(data[start:j]), j + 2, "\x1b\\", true
			}
		}
		j++
	}
	return "", 0, "", false
}

func answerOSC(body, terminator string) []byte {
	switch {
	case body == "10;?":
		return []byte("\x1b]10;rgb:e5e5/e5e5/e5e5" + terminator)
	case body == "11;?":
		return []byte("\x1b]11;rgb:0a0a/0a0a/0a0a" + terminator)
	case strings.HasPrefix(body, "4;") && strings.HasSuffix(body, ";?"):
		idxText := strings.TrimSuffix(strings.TrimPrefix(body, "4;"), ";?")
		idx, err := strconv.Atoi(idxText)
		if err != nil {
			return nil
		}
		hex := Xterm256Color(idx)
		if hex == "" {
			return nil
		}
		return []byte(fmt.Sprintf("\x1b]4;%d;%s%s", idx, hexToXParseColor(hex), terminator))
	}
	return nil
}

func answerAPC(body string) []byte {
	// Kitty graphics capability probe.
	if strings.HasPrefix(body, "G") && strings.Contains(body, "i=31337") {
		return []byte("\x1b_Gi=31337;OK\x1b\\")
	}
	return nil
}

// hexToXParseColor converts "#rrggbb" to the 16-bit-per-channel
// "rgb:rrrr/gggg/bbbb" form used in OSC color replies.
func hexToXParseColor(hex string) string {
	if len(hex) != 7 {
		return hex
	}
	r, g, b := hex[1:3], hex[3:5], hex[5:7]
	return fmt.Sprintf("rgb:%s%s/%s%s/%s%s", r, r, g, g, b, b)
}
