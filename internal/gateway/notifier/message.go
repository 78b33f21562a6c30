package notifier

import (
	"strings"
	"time"
)

// Telegram rejects messages over 4096 characters; leave room for the
// closing fence and the ellipsis.
const maxMessageLen = 3800

// Section is a titled group of lines inside a message.
type Section struct {
	Title string
	Lines []string
}

// Message is the layout shared by every event: a header, one fenced block of
// sections, an optional footer and a timestamp.
type Message struct {
	Icon     string
	Title    string
	Sections []Section
	Footer   string
	At       time.Time
}

// Markdown renders the message for Telegram's legacy Markdown mode. Long
// messages are cut on a line boundary and the code fence is closed again.
func (m Message) Markdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	if block := m.block(); block != "" {
		b.WriteString("```\n")
		b.WriteString(block)
		b.WriteString("```\n\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(unfence(footer))
		b.WriteString("\n")
	}
	if !m.At.IsZero() {
		b.WriteString(m.At.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return truncate(strings.TrimSpace(b.String()))
}

func (m Message) block() string {
	var parts []string
	for _, sec := range m.Sections {
		var b strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(unfence(title))
			b.WriteString("\n")
		}
		n := 0
		for _, line := range sec.Lines {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			b.WriteString("- ")
			b.WriteString(unfence(line))
			b.WriteString("\n")
			n++
		}
		if n > 0 {
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "\n")
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := s[:maxMessageLen]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	// an odd number of fences means the block was cut open
	if strings.Count(cut, "```")%2 == 1 {
		cut += "\n```"
	}
	return cut + "\n..."
}

func unfence(s string) string { return strings.ReplaceAll(s, "```", "'''") }
