package vt

import "fmt"

// ansi16 is the base 16-color palette, matching the VS Code defaults the
// original sidecar shipped with.
var ansi16 = [16]string{
	"#000000", "#cd3131", "#0dbc79", "#e5e510", "#2472c8", "#bc3fbc", "#11a8cd", "#e5e5e5",
	"#666666", "#f14c4c", "#23d18b", "#f5f543", "#3b8eea", "#d670d6", "#29b8db", "#ffffff",
}

// cubeLevels are the channel values of the xterm 6x6x6 color cube.
var cubeLevels = [6]int{0, 95, 135, 175, 215, 255}

// Ansi16Color returns the hex string for palette index 0..15.
func Ansi16Color(index int) string {
	if index < 0 || index > 15 {
		return ""
	}
	return ansi16[index]
}

// RGBHex formats clamped channel values as "#rrggbb".
func RGBHex(r, g, b int) string {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return v
	}
	return fmt.Sprintf("#%02x%02x%02x", clamp(r), clamp(g), clamp(b))
}

// Xterm256Color maps an index in the 256-color palette to a hex string.
// Indexes 0..15 use the ANSI palette, 16..231 the 6x6x6 cube, 232..255 the
// 24-level grayscale ramp.
func Xterm256Color(index int) string {
	if index < 0 || index > 255 {
		return ""
	}
	if index < 16 {
		return ansi16[index]
	}
	if index >= 232 {
		v := 8 + (index-232)*10
		return RGBHex(v, v, v)
	}

	i := index - 16
	r := i / 36
	g := (i % 36) / 6
	b := i % 6
	return RGBHex(cubeLevels[r], cubeLevels[g], cubeLevels[b])
}
