package router

import "strings"

// promptMarker is the input-prompt prefix agent TUIs draw when waiting.
const promptMarker = "❯ "

// chromeRatio is the share of box-drawing characters above which a line is
// treated as a separator rather than content.
const chromeRatio = 0.9

// maxSubstantiveLines is how many real content lines an idle block may
// contain beyond the separator.
const maxSubstantiveLines = 2

// isIdlePrompt reports whether the trailing block of a window buffer looks
// like an empty input prompt with a separator and status bar, i.e. the
// agent is waiting rather than answering.
func isIdlePrompt(buffer string) bool {
	lines := strings.Split(buffer, "\n")

	promptIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimLeft(lines[i], " "), promptMarker) {
			promptIdx = i
			break
		}
	}
	if promptIdx == -1 {
		return false
	}

	block := lines[promptIdx+1:]
	for len(block) > 0 && strings.TrimSpace(block[len(block)-1]) == "" {
		block = block[:len(block)-1]
	}
	if len(block) == 0 {
		return true
	}

	// The shape is: prompt, separator line, then at most a couple of
	// status lines.
	first := -1
	for i, line := range block {
		if strings.TrimSpace(line) != "" {
			first = i
			break
		}
	}
	if first == -1 {
		return true
	}
	if !isChromeLine(block[first]) {
		return false
	}

	substantive := 0
	for _, line := range block[first+1:] {
		if strings.TrimSpace(line) == "" || isChromeLine(line) {
			continue
		}
		substantive++
	}
	return substantive <= maxSubstantiveLines
}

// isChromeLine reports whether a line is almost entirely box-drawing and
// dash characters.
func isChromeLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	chrome := 0
	total := 0
	for _, r := range trimmed {
		total++
		if isChromeRune(r) {
			chrome++
		}
	}
	return float64(chrome)/float64(total) >= chromeRatio
}

func isChromeRune(r rune) bool {
	switch {
	case r >= 0x2500 && r <= 0x257f: // box drawing
		return true
	case r >= 0x2580 && r <= 0x259f: // block elements
		return true
	case r == '-' || r == '=' || r == '_' || r == '━' || r == '─' || r == '│':
		return true
	case r == ' ':
		return true
	}
	return false
}

// trailingBlock extracts the last command block of a buffer: from the last
// prompt line to the end, trailing blanks stripped. Without a prompt, the
// last 15 lines are returned.
func trailingBlock(buffer string) string {
	lines := strings.Split(buffer, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	start := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimLeft(lines[i], " "), promptMarker) {
			start = i
			break
		}
	}
	if start == -1 {
		start = len(lines) - 15
		if start < 0 {
			start = 0
		}
	}
	return strings.Join(lines[start:], "\n")
}
