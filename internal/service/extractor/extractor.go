// Package extractor reduces an inbound email body to the part its author
// actually wrote, dropping quoted history and signatures.
package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// DefaultFallbackChars bounds the fallback excerpt used when nothing visible remains
const DefaultFallbackChars = 500

var (
	attributionLine = regexp.MustCompile(`(?i)^on\s.+\swrote:$`)
	attributionTail = regexp.MustCompile(`(?i)wrote:$`)
	outlookHeader   = regexp.MustCompile(`(?i)^(sent|date|to|subject):`)
	underscoreRule  = regexp.MustCompile(`^_{10,}$`)
)

// Lines that start quoted history; everything from the marker on is dropped.
var historyMarkers = []string{
	"-----original message-----",
	"begin forwarded message",
	"---------- forwarded message",
}

var signaturePrefixes = []string{
	"sent from my ",
	"get outlook for ",
}

// Extractor returns the visible portion of message bodies
type Extractor struct {
	fallbackChars int
}

// Option configures an Extractor
type Option func(*Extractor)

// WithFallbackChars sets the length of the excerpt used when no visible text remains
func WithFallbackChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.fallbackChars = n
		}
	}
}

// New creates an extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{fallbackChars: DefaultFallbackChars}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var std = New()

// Extract uses the default extractor
func Extract(text, html string) string {
	return std.Extract(text, html)
}

// Extract returns the human-authored portion of a message. The text body is
// preferred; the HTML body is converted to text when the text body is empty.
// Extract never panics: on an internal failure it returns the raw text, then
// the raw HTML, then "".
func (e *Extractor) Extract(text, html string) (visible string) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("Reply extraction failed, using raw body: %v", r)
			switch {
			case text != "":
				visible = text
			case html != "":
				visible = html
			default:
				visible = ""
			}
		}
	}()

	source := normalizeNewlines(text)
	if strings.TrimSpace(source) == "" && strings.TrimSpace(html) != "" {
		source = HTMLToText(html)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return ""
	}

	if out := visibleFragment(source); out != "" {
		return out
	}
	return truncateRunes(source, e.fallbackChars)
}

func visibleFragment(body string) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))

scan:
	for i, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case strings.HasPrefix(trimmed, ">"):
			continue
		case line == "--" || line == "-- ":
			break scan
		case attributionLine.MatchString(trimmed):
			break scan
		case strings.HasPrefix(lower, "on ") && i+1 < len(lines) && attributionTail.MatchString(strings.TrimSpace(lines[i+1])):
			// attribution wrapped onto two lines by the sending client
			break scan
		case underscoreRule.MatchString(trimmed):
			break scan
		case strings.HasPrefix(lower, "from:") && outlookBlockFollows(lines[i+1:]):
			break scan
		}

		for _, marker := range historyMarkers {
			if strings.HasPrefix(lower, marker) {
				break scan
			}
		}
		for _, prefix := range signaturePrefixes {
			if strings.HasPrefix(lower, prefix) {
				break scan
			}
		}

		kept = append(kept, line)
	}

	return collapseBlankLines(strings.TrimSpace(strings.Join(kept, "\n")))
}

// outlookBlockFollows reports whether the lines after a "From:" line look like
// an Outlook reply header (Sent:/Date:/To:/Subject: within a few lines).
func outlookBlockFollows(rest []string) bool {
	for i := 0; i < len(rest) && i < 4; i++ {
		if outlookHeader.MatchString(strings.TrimSpace(rest[i])) {
			return true
		}
	}
	return false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
