// Package sanitize cleans operator-supplied text before it reaches the data
// set or the event log: measurement labels, upload source names and free
// text. Everything it returns is a single line.
package sanitize

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLabelLength is the maximum allowed length, in runes, of a measurement
// label.
const MaxLabelLength = 64

// MaxSourceLength is the maximum allowed length, in runes, of a source name.
const MaxSourceLength = 128

// MaxTextLength is the maximum allowed length, in runes, of a log message
// fragment.
const MaxTextLength = 200

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reWhitespace = regexp.MustCompile(`\s+`)

	reRepeatedDots = regexp.MustCompile(`\.{2,}`)
)

// Label sanitizes a measurement label. It strips control characters and
// markup, collapses whitespace and truncates to MaxLabelLength.
func Label(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reWhitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return truncate(s, MaxLabelLength)
}

// SourceName reduces an uploaded file name to its base name and keeps only
// [a-zA-Z0-9._- ]. Path separators of either style are treated as
// directories.
func SourceName(input string) string {
	if input == "" {
		return ""
	}

	s := strings.ReplaceAll(input, `\`, "/")
	s = path.Base(s)
	if s == "." || s == "/" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' || r == ' ' {
			b.WriteRune(r)
		}
	}
	s = reRepeatedDots.ReplaceAllString(b.String(), ".")
	s = strings.TrimSpace(s)
	return truncate(s, MaxSourceLength)
}

// Text makes free text safe for a single event log line.
func Text(input string) string {
	if input == "" {
		return ""
	}

	s := reWhitespace.ReplaceAllString(stripControlChars(input), " ")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxTextLength {
		return truncate(s, MaxTextLength) + "..."
	}
	return s
}

// stripControlChars replaces ASCII control characters (0x00-0x1F, 0x7F)
// with spaces; null bytes are dropped.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == 0:
			continue
		case r < 0x20 || r == 0x7f:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}
