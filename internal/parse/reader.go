// Package parse turns makefile bytes into scopes, inference rules,
// explicit rules and recipe bodies (4.2).
package parse

import (
	"bytes"
	"strings"
)

// Line is one logical line after \r\n/\n/\r normalization and backslash
// continuation joining. IsRecipe records whether the first physical line
// of this logical line began with a tab (0x09); only that leads to a
// recipe-line classification, per 6's "leading spaces are NOT recipe
// lines."
type Line struct {
	Text     string
	File     string
	LineNo   int // line number of the first physical line, 1-based
	IsRecipe bool
}

// ReadLogicalLines splits src into logical lines, honoring the three
// accepted line endings and backslash-newline continuation (one injected
// space). A UTF-8 byte-order mark, if present, is consumed and forces
// UTF-8 interpretation of the remainder; otherwise the bytes are taken
// as-is (this engine assumes its input is already UTF-8 or ASCII — a
// true active-code-page translation belongs to a platform layer this
// core does not own).
func ReadLogicalLines(src []byte, file string) []Line {
	src = bytes.TrimPrefix(src, []byte{0xEF, 0xBB, 0xBF})

	type physicalLine struct {
		text string
		no   int
	}
	var physical []physicalLine
	lineNo := 1
	for i := 0; i < len(src); {
		start := i
		for i < len(src) && src[i] != '\n' && src[i] != '\r' {
			i++
		}
		physical = append(physical, physicalLine{string(src[start:i]), lineNo})

		if i < len(src) {
			if src[i] == '\r' && i+1 < len(src) && src[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
		}
		lineNo++
	}

	var out []Line
	for idx := 0; idx < len(physical); idx++ {
		text := physical[idx].text
		no := physical[idx].no
		isRecipe := len(text) > 0 && text[0] == '\t'

		for strings.HasSuffix(text, "\\") && isUnescapedTrailingBackslash(text) {
			text = text[:len(text)-1] + " "
			idx++
			if idx >= len(physical) {
				break
			}
			text += physical[idx].text
		}

		if !isRecipe {
			text = stripComment(text)
		}

		out = append(out, Line{Text: text, File: file, LineNo: no, IsRecipe: isRecipe})
	}
	return out
}

// isUnescapedTrailingBackslash reports whether the string's trailing
// backslash run is odd-length, i.e. the final backslash is a genuine
// continuation marker rather than an escaped literal backslash.
func isUnescapedTrailingBackslash(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// stripComment removes a trailing '#' comment from a non-recipe line,
// unless the '#' is escaped with a backslash.
func stripComment(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' {
			if i > 0 && s[i-1] == '\\' {
				continue
			}
			return s[:i]
		}
	}
	return s
}
