package chat

import (
	"strings"

	"github.com/comigor/ollamachat/internal/logger"
)

// DefaultInstruction is the system prompt used when none is configured.
const DefaultInstruction = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."

// RoleMessage is one entry of the prompt sent to the inference server.
type RoleMessage struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 JPEG
}

// BuildPrompt assembles the system instruction, the prior history and the new
// user turn, in that order. history must not contain the new turn. An image
// that cannot be decoded is left out of the prompt.
func BuildPrompt(history []Message, content string, image []byte, instruction string) []RoleMessage {
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}
	out := make([]RoleMessage, 0, len(history)+2)
	out = append(out, RoleMessage{Role: RoleSystem, Content: instruction})
	for _, m := range history {
		role := RoleAssistant
		if m.IsUser() {
			role = RoleUser
		}
		out = append(out, RoleMessage{Role: role, Content: m.Content})
	}

	turn := RoleMessage{Role: RoleUser, Content: content}
	if len(image) > 0 {
		encoded, err := EncodeImage(image)
		if err != nil {
			logger.L.Warn("dropping unreadable image from prompt", "error", err)
		} else {
			turn.Images = []string{encoded}
		}
	}
	return append(out, turn)
}
