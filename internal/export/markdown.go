// Package export renders conversations as shareable Markdown transcripts.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/comigor/ollamachat/internal/chat"
)

// NoConversations is the transcript of an empty conversation.
const NoConversations = "No conversations"

// Meta describes where a transcript came from.
type Meta struct {
	Model       string
	BaseURL     string
	GeneratedAt time.Time
}

// Markdown formats messages as a transcript: a title, one "Question N"
// section per user message, its answer, and a footer naming the model and
// server.
func Markdown(messages []chat.Message, meta Meta) string {
	if len(messages) == 0 {
		return NoConversations
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s conversation\n\n", meta.Model))

	for i, m := range messages {
		if m.IsUser() {
			sb.WriteString(fmt.Sprintf("## Question %d\n", i/2+1))
			content := m.Content
			switch {
			case len(m.Image) > 0 && content == "":
				content = "(image)"
			case len(m.Image) > 0:
				content += "\n(image attached)"
			}
			sb.WriteString(content + "\n\n")
			continue
		}

		sb.WriteString("### Answer\n")
		sb.WriteString(m.Content + "\n\n")
		if i < len(messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	generated := meta.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n\nGenerated: %s\n", generated.Format("Jan 2, 2006 at 3:04 PM")))
	sb.WriteString(fmt.Sprintf("Model: %s\n", meta.Model))
	sb.WriteString(fmt.Sprintf("Server: %s", meta.BaseURL))
	return sb.String()
}
