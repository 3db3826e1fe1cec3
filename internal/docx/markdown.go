package docx

import (
	"strconv"
	"strings"
)

func renderMarkdown(blocks []block) string {
	var b strings.Builder
	prevList := false

	for _, blk := range blocks {
		switch v := blk.(type) {
		case *paragraph:
			text := inlineMarkdown(v.runs, false)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				if v.list && prevList {
					b.WriteString("\n")
				} else {
					b.WriteString("\n\n")
				}
			}
			b.WriteString(paragraphPrefix(v))
			b.WriteString(text)
			prevList = v.list

		case *table:
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			writeTable(&b, v)
			prevList = false
		}
	}

	b.WriteString("\n")
	return b.String()
}

func paragraphPrefix(p *paragraph) string {
	if level := headingLevel(p.style); level > 0 {
		return strings.Repeat("#", level) + " "
	}
	if p.list {
		return strings.Repeat("  ", max(p.level, 0)) + "- "
	}
	return ""
}

// headingLevel maps Word heading styles ("Heading1", "heading 2", "Title")
// to Markdown heading levels.
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if n, ok := strings.CutPrefix(s, "heading"); ok {
		if level, err := strconv.Atoi(n); err == nil && level >= 1 && level <= 6 {
			return level
		}
	}
	return 0
}

func writeTable(b *strings.Builder, t *table) {
	cols := 0
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return
	}

	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(t.rows[0])
	b.WriteString("|")
	for i := 0; i < cols; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range t.rows[1:] {
		writeRow(row)
	}
}

// inlineMarkdown renders runs, merging neighbours that share formatting.
// Table cells cannot hold line breaks, so breaks become spaces there.
func inlineMarkdown(runs []run, inTable bool) string {
	var (
		b       strings.Builder
		pending run
		open    bool
	)

	flush := func() {
		if open {
			b.WriteString(emphasize(escape(pending.text), pending.bold, pending.italic))
			open = false
		}
	}

	for _, r := range runs {
		switch {
		case r.image != "":
			flush()
			b.WriteString("![")
			b.WriteString(escape(r.alt))
			b.WriteString("](")
			b.WriteString(r.image)
			b.WriteString(")")
		case r.brk:
			flush()
			if inTable {
				b.WriteString(" ")
			} else {
				b.WriteString("\\\n")
			}
		case open && r.bold == pending.bold && r.italic == pending.italic:
			pending.text += r.text
		default:
			flush()
			pending = r
			open = true
		}
	}
	flush()

	return strings.TrimSpace(strings.TrimSuffix(b.String(), "\\\n"))
}

// emphasize wraps text in emphasis markers. Surrounding whitespace stays
// outside the markers or the emphasis would not parse.
func emphasize(text string, bold, italic bool) string {
	if !bold && !italic {
		return text
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	marker := ""
	switch {
	case bold && italic:
		marker = "***"
	case bold:
		marker = "**"
	default:
		marker = "*"
	}

	lead := text[:strings.Index(text, trimmed)]
	trail := text[len(lead)+len(trimmed):]
	return lead + marker + trimmed + marker + trail
}

// escape backslash-escapes ASCII punctuation so document text is never read
// as Markdown syntax or raw HTML.
func escape(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r < 128 && strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
