// Package chat holds the in-memory message model and builds the role-tagged
// prompt sent to an inference server.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one half of a chat turn.
type Message struct {
	ID        uuid.UUID
	Content   string
	Role      Role
	CreatedAt time.Time
	Image     []byte // user messages only; encoded image file bytes

	// TurnID is the row id of the stored turn this message belongs to, or 0
	// when the message has not been persisted.
	TurnID int64
}

// NewUserMessage returns a fresh user message.
func NewUserMessage(content string, image []byte) Message {
	return Message{ID: uuid.New(), Content: content, Role: RoleUser, CreatedAt: time.Now(), Image: image}
}

// NewAssistantMessage returns a fresh assistant message.
func NewAssistantMessage(content string) Message {
	return Message{ID: uuid.New(), Content: content, Role: RoleAssistant, CreatedAt: time.Now()}
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool { return m.Role == RoleUser }
