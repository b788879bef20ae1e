package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/comigor/ollamachat/internal/chat"
)

func TestMarkdown(t *testing.T) {
	msgs := []chat.Message{
		chat.NewUserMessage("What is Go?", nil),
		chat.NewAssistantMessage("A language."),
		chat.NewUserMessage("", []byte{1, 2, 3}),
		chat.NewAssistantMessage("A gopher."),
		chat.NewUserMessage("And this?", []byte{4}),
	}
	meta := Meta{
		Model:       "llama3",
		BaseURL:     "http://localhost:11434",
		GeneratedAt: time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC),
	}

	want := "# llama3 conversation\n\n" +
		"## Question 1\nWhat is Go?\n\n" +
		"### Answer\nA language.\n\n---\n\n" +
		"## Question 2\n(image)\n\n" +
		"### Answer\nA gopher.\n\n---\n\n" +
		"## Question 3\nAnd this?\n(image attached)\n\n" +
		"\n\nGenerated: Mar 1, 2025 at 2:05 PM\n" +
		"Model: llama3\n" +
		"Server: http://localhost:11434"
	assert.Equal(t, want, Markdown(msgs, meta))
}

func TestMarkdown_LastAnswerHasNoSeparator(t *testing.T) {
	msgs := []chat.Message{chat.NewUserMessage("q", nil), chat.NewAssistantMessage("a")}
	got := Markdown(msgs, Meta{Model: "m", BaseURL: "u", GeneratedAt: time.Unix(0, 0).UTC()})
	assert.NotContains(t, got, "---")
}

func TestMarkdown_Empty(t *testing.T) {
	assert.Equal(t, NoConversations, Markdown(nil, Meta{Model: "m"}))
}
