package escpos

import (
	"strings"
	"unicode/utf8"
)

// DefaultWidth is the column count of a 58-80mm roll at the default font
const DefaultWidth = 32

// Justify places left and right on one line of width columns. Overlong
// content is neither padded nor truncated.
func Justify(left, right string, width int) string {
	spaces := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	return left + strings.Repeat(" ", max(0, spaces)) + right
}

// Center left-pads text so it sits in the middle of width columns
func Center(text string, width int) string {
	padding := max(0, (width-utf8.RuneCountInString(text))/2)
	return strings.Repeat(" ", padding) + text
}

// Rule returns a separator line of width dashes
func Rule(width int) string {
	return strings.Repeat("-", width)
}

// Truncate shortens s to keep runes plus "..." when it is longer than limit
// runes. The remainder after keep runes is returned separately.
func Truncate(s string, limit, keep int) (head, rest string, truncated bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, "", false
	}
	keep = min(keep, len(runes))
	return string(runes[:keep]) + "...", string(runes[keep:]), true
}
