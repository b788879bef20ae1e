package chat

import "strings"

// AttachmentKind tells how extracted document text is labelled in a prompt.
type AttachmentKind int

const (
	AttachmentPDF AttachmentKind = iota
	AttachmentText
)

func (k AttachmentKind) header() string {
	if k == AttachmentPDF {
		return "[PDF document]"
	}
	return "[Text file]"
}

// Attachment is text already extracted from a document.
type Attachment struct {
	Kind AttachmentKind
	Text string
}

// ComposeContent merges typed text with extracted document text. Each
// attachment is appended under its header, separated by a blank line.
func ComposeContent(text string, attachments ...Attachment) string {
	out := strings.TrimSpace(text)
	for _, a := range attachments {
		block := a.Kind.header() + "\n" + a.Text
		if out == "" {
			out = block
		} else {
			out += "\n\n" + block
		}
	}
	return out
}
