package llm

import (
	"context"

	"github.com/comigor/ollamachat/internal/chat"
)

// Client is the capability every inference provider offers the session; it
// is easy to mock in tests.
type Client interface {
	// ChatStream starts a streaming generation. Errors that happen before the
	// first delta (connection, non-200 status) are returned here.
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
	// ListModels returns the model names the server offers. A failed call is
	// an error; a server without models returns an empty slice.
	ListModels(ctx context.Context) ([]string, error)
}

// Stream yields text deltas in arrival order.
type Stream interface {
	// Recv returns the next non-empty delta, io.EOF once the server signalled
	// completion or closed the stream, or the error that interrupted it.
	Recv() (string, error)
	Close() error
}

// BaseURLSetter is implemented by clients whose server address can change at
// runtime.
type BaseURLSetter interface {
	SetBaseURL(string)
}

// ChatRequest is one generation request.
type ChatRequest struct {
	Model       string
	Messages    []chat.RoleMessage
	Temperature float64
	TopP        float64
	TopK        int
}
