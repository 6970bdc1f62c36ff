package vt

import "github.com/mattn/go-runewidth"

// cellWidth returns the display width of r: 0 for combining marks, ZWJ and
// variation selectors (they join onto the previous cell), 1 for narrow, 2
// for East Asian Wide and emoji.
func cellWidth(r rune) int {
	if r == 0 {
		return 0
	}
	if r < 0x20 || (r >= 0x7f && r < 0xa0) {
		return 0
	}

	w := runewidth.RuneWidth(r)
	if w > 2 {
		w = 2
	}
	return w
}
