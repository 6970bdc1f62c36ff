// Package vt implements the terminal emulator behind every runtime window.
//
// The emulator is a pure state machine: it consumes raw PTY bytes and
// produces styled frame snapshots. It has no I/O and no goroutines of its
// own; the runtime serializes access per window.
package vt

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

type actionType int

const (
	actPrint actionType = iota
	actCR
	actLF
	actBS
	actTab
	actDECSC
	actDECRC
	actRIS
	actIndex
	actNextLine
	actReverseIndex
	actCSI
	actNoop
)

// action is one decoded terminal instruction.
type action struct {
	typ actionType
	ch  rune

	// CSI fields. params uses -1 for an omitted parameter.
	params  []int
	private bool
	inter   string
	final   byte
}

// parse tokenizes data into actions. Trailing bytes that form an incomplete
// escape sequence (or a split UTF-8 rune) are returned as carry so the next
// chunk can be prepended to them. unknown counts skipped escapes.
func parse(data []byte) (acts []action, carry []byte, unknown int) {
	i := 0
	for i < len(data) {
		c := data[i]

		if c == 0x1b {
			consumed, act, incomplete, ok := parseEscape(data[i:])
			if incomplete {
				carry = append(carry, data[i:]...)
				return acts, carry, unknown
			}
			if !ok {
				unknown++
			} else if act.typ != actNoop {
				acts = append(acts, act)
			}
			i += consumed
			continue
		}

		if c < 0x20 || c == 0x7f {
			switch c {
			case '\r':
				acts = append(acts, action{typ: actCR})
			case '\n':
				acts = append(acts, action{typ: actLF})
			case 0x08:
				acts = append(acts, action{typ: actBS})
			case '\t':
				acts = append(acts, action{typ: actTab})
			}
			i++
			continue
		}

		if !utf8.FullRune(data[i:]) {
			carry = append(carry, data[i:]...)
			return acts, carry, unknown
		}

		r, size := utf8.DecodeRune(data[i:])
		acts = append(acts, action{typ: actPrint, ch: r})
		i += size
	}

	return acts, nil, unknown
}

// parseEscape decodes one escape sequence starting at data[0] == ESC.
// Returns consumed byte count, the decoded action, whether the sequence ran
// off the end of the chunk, and whether the sequence was recognized.
func parseEscape(data []byte) (consumed int, act action, incomplete, ok bool) {
	if len(data) < 2 {
		return 0, action{}, true, false
	}

	switch next := data[1]; next {
	case '[':
		j := 2
		for j < len(data) {
			if data[j] >= 0x40 && data[j] <= 0x7e {
				break
			}
			j++
		}
		if j >= len(data) {
			return 0, action{}, true, false
		}
		params, private, inter := parseCSIParams(string(data[2:j]))
		return j + 1, action{
			typ:     actCSI,
			params:  params,
			private: private,
			inter:   inter,
			final:   data[j],
		}, false, true

	case ']':
		// OSC, terminated by BEL or ST.
		j := 2
		for j < len(data) {
			if data[j] == 0x07 {
				return j + 1, action{typ: actNoop}, false, true
			}
			if data[j] == 0x1b {
				if j+1 >= len(data) {
					return 0, action{}, true, false
				}
				if data[j+1] == '\\' {
					return j + 2, action{typ: actNoop}, false, true
				}
			}
			j++
		}
		return 0, action{}, true, false

	case 'P', 'X', '^', '_':
		// DCS/SOS/PM/APC, terminated by ST only.
		j := 2
		for j < len(data) {
			if data[j] == 0x1b {
				if j+1 >= len(data) {
					return 0, action{}, true, false
				}
				if data[j+1] == '\\' {
					return j + 2, action{typ: actNoop}, false, true
				}
			}
			j++
		}
		return 0, action{}, true, false

	case '(', ')', '*', '+', '-', '.', '/':
		// SCS character-set designation: one more byte.
		if len(data) < 3 {
			return 0, action{}, true, false
		}
		return 3, action{typ: actNoop}, false, true

	case '7':
		return 2, action{typ: actDECSC}, false, true
	case '8':
		return 2, action{typ: actDECRC}, false, true
	case 'c':
		return 2, action{typ: actRIS}, false, true
	case 'D':
		return 2, action{typ: actIndex}, false, true
	case 'E':
		return 2, action{typ: actNextLine}, false, true
	case 'M':
		return 2, action{typ: actReverseIndex}, false, true
	case '=', '>':
		// Keypad modes; no screen effect.
		return 2, action{typ: actNoop}, false, true

	default:
		return 2, action{}, false, false
	}
}

// parseCSIParams splits the raw parameter bytes of a CSI sequence.
// Omitted parameters become -1 so callers can distinguish "missing" from 0.
func parseCSIParams(raw string) (params []int, private bool, inter string) {
	if strings.HasPrefix(raw, "?") {
		private = true
		raw = raw[1:]
	}

	var numeric strings.Builder
	for _, b := range []byte(raw) {
		if (b >= '0' && b <= '9') || b == ';' {
			numeric.WriteByte(b)
		} else {
			inter += string(b)
		}
	}

	text := numeric.String()
	if text == "" {
		return []int{-1}, private, inter
	}

	for _, part := range strings.Split(text, ";") {
		if part == "" {
			params = append(params, -1)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			params = append(params, -1)
			continue
		}
		params = append(params, n)
	}
	return params, private, inter
}

// paramOr returns params[idx] or def when the parameter is absent.
func paramOr(params []int, idx, def int) int {
	if idx >= len(params) || params[idx] < 0 {
		return def
	}
	return params[idx]
}
