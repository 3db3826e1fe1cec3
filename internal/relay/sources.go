package relay

import (
	"regexp"
	"strings"
)

const (
	sourcesOpen  = "<sources>"
	sourcesClose = "</sources>"
)

var sourcesPattern = regexp.MustCompile(`(?s)<sources>.*?</sources>`)

// CleanSources removes every complete <sources>...</sources> span and any
// stray closing tag left behind by a span that was split upstream. Tags are
// removed leftmost first, one at a time, so text that joins into a new tag
// around a removed one is removed too.
func CleanSources(text string) string {
	for {
		span := sourcesPattern.FindStringIndex(text)
		stray := strings.Index(text, sourcesClose)
		switch {
		case stray >= 0 && (span == nil || stray < span[0]):
			text = text[:stray] + text[stray+len(sourcesClose):]
		case span != nil:
			text = text[:span[0]] + text[span[1]:]
		default:
			return text
		}
	}
}

// sourceFilter strips <sources> spans from text that arrives in arbitrary
// pieces. Text that could be the start of a tag is held back until the next
// Write or Flush decides it. The text on both sides of a removed span is
// rescanned as one, so "<sou" + span + "rces>" cannot leak a new tag.
type sourceFilter struct {
	inside  bool
	pending string
	// carry is the tail before the current span that could join with the
	// text after it.
	carry string
}

// Write consumes the next piece of text and returns the part that is safe
// to forward.
func (f *sourceFilter) Write(text string) string {
	buf := f.pending + text
	f.pending = ""

	var out strings.Builder
	for buf != "" {
		if f.inside {
			end := strings.Index(buf, sourcesClose)
			if end < 0 {
				// Only a possible closing tag prefix matters; the rest is
				// span content and is dropped.
				f.pending = buf[len(buf)-partialTagSuffix(buf, sourcesClose):]
				break
			}
			f.inside = false
			buf = f.carry + buf[end+len(sourcesClose):]
			f.carry = ""
			continue
		}

		open := strings.Index(buf, sourcesOpen)
		stray := strings.Index(buf, sourcesClose)
		switch {
		case stray >= 0 && (open < 0 || stray < open):
			head, tail := splitTagTail(buf[:stray])
			out.WriteString(head)
			buf = tail + buf[stray+len(sourcesClose):]
		case open >= 0:
			head, tail := splitTagTail(buf[:open])
			out.WriteString(head)
			f.carry = tail
			f.inside = true
			buf = buf[open+len(sourcesOpen):]
		default:
			head, tail := splitTagTail(buf)
			out.WriteString(head)
			f.pending = tail
			buf = ""
		}
	}

	return out.String()
}

// Flush ends the stream. Held-back text that never became a tag is returned;
// an unterminated span is dropped.
func (f *sourceFilter) Flush() string {
	rest := f.pending
	f.pending = ""
	if f.inside {
		rest = f.carry
		f.inside = false
	}
	f.carry = ""
	return rest
}

// splitTagTail splits s before its longest suffix that could begin either tag.
func splitTagTail(s string) (head, tail string) {
	n := max(partialTagSuffix(s, sourcesOpen), partialTagSuffix(s, sourcesClose))
	return s[:len(s)-n], s[len(s)-n:]
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialTagSuffix(s, tag string) int {
	n := min(len(s), len(tag)-1)
	for ; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
