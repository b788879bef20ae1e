// Package session drives chat turns against an inference server: it streams
// the response into an observable live buffer, persists finished turns, and
// keeps the in-memory conversation consistent with the store.
package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/ollamachat/internal/chat"
	"github.com/comigor/ollamachat/internal/config"
	"github.com/comigor/ollamachat/internal/history"
	"github.com/comigor/ollamachat/internal/llm"
	"github.com/comigor/ollamachat/internal/logger"
)

var (
	// ErrEmptyMessage is returned by Send when there is neither text nor an image.
	ErrEmptyMessage = errors.New("session: message has no content")
	// ErrCancelled is returned by Send when the generation was cancelled.
	ErrCancelled = errors.New("session: generation cancelled")
	// ErrBusy is returned by operations that cannot run during a generation.
	ErrBusy = errors.New("session: generation in progress")
	// ErrIndexOutOfRange reports that a message index does not map onto the
	// stored turns of the conversation.
	ErrIndexOutOfRange = errors.New("session: index out of range")
)

// Store is the subset of the conversation store the session uses.
type Store interface {
	InsertTurn(ctx context.Context, nt history.NewTurn) (history.Turn, error)
	TurnsForGroup(ctx context.Context, groupID string) ([]history.Turn, error)
	DeleteTurnByID(ctx context.Context, groupID string, id int64) error
	DeleteGroup(ctx context.Context, groupID string) error
}

// Settings are the generation parameters a coordinator works with.
type Settings struct {
	BaseURL     string
	Instruction string
	Temperature float64
	TopP        float64
	TopK        int
	Model       string // used when Send is not given a model
}

// SettingsFromConfig extracts the session settings from the configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BaseURL:     cfg.Server.BaseURL,
		Instruction: cfg.Generation.Instruction,
		Temperature: cfg.Generation.Temperature,
		TopP:        cfg.Generation.TopP,
		TopK:        cfg.Generation.TopK,
		Model:       cfg.Generation.Model,
	}
}

// Coordinator owns one conversation. At most one generation runs at a time;
// a new Send preempts the running one.
type Coordinator struct {
	client llm.Client
	store  Store
	obs    observers
	now    func() time.Time

	// sendMu serializes preemption and start of a generation.
	sendMu sync.Mutex

	mu         sync.Mutex
	settings   Settings
	groupID    string
	messages   []chat.Message
	live       string
	generating bool
	lastErr    error
	cur        *generation
}

// New creates a coordinator for groupID. An empty groupID starts a new
// conversation.
func New(client llm.Client, store Store, settings Settings, groupID string) *Coordinator {
	if groupID == "" {
		groupID = uuid.NewString()
	}
	return &Coordinator{
		client:   client,
		store:    store,
		now:      time.Now,
		settings: settings,
		groupID:  groupID,
	}
}

// Subscribe registers fn for every event. Events are delivered in order from
// the generating goroutine; fn must not call Cancel or Send synchronously.
func (c *Coordinator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.obs.add(fn)
}

// ConversationID returns the group id turns are persisted under.
func (c *Coordinator) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID
}

// Messages returns a copy of the conversation.
func (c *Coordinator) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// LiveResponse returns the text streamed so far for the running generation.
func (c *Coordinator) LiveResponse() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// IsGenerating reports whether a generation is in flight.
func (c *Coordinator) IsGenerating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

// LastError returns the error of the last generation, if it failed.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Settings returns the current settings.
func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings replaces the settings used by subsequent generations.
func (c *Coordinator) UpdateSettings(s Settings) {
	c.mu.Lock()
	old := c.settings.BaseURL
	c.settings = s
	c.mu.Unlock()
	if s.BaseURL != old {
		c.applyBaseURL(s.BaseURL)
	}
}

// UpdateBaseURL points subsequent generations at another server.
func (c *Coordinator) UpdateBaseURL(u string) {
	u = strings.TrimRight(u, "/")
	c.mu.Lock()
	c.settings.BaseURL = u
	c.mu.Unlock()
	c.applyBaseURL(u)
}

func (c *Coordinator) applyBaseURL(u string) {
	if setter, ok := c.client.(llm.BaseURLSetter); ok {
		setter.SetBaseURL(u)
	}
	logger.L.Info("base url updated", "base_url", u)
}

// ListModels returns the models offered by the server.
func (c *Coordinator) ListModels(ctx context.Context) ([]string, error) {
	return c.client.ListModels(ctx)
}

// Send appends a user message, streams the answer and persists the turn. It
// blocks until the generation reaches a terminal state. On cancellation the
// kept partial message (zero if nothing had streamed) is returned with
// ErrCancelled; on failure the transport error is returned.
func (c *Coordinator) Send(ctx context.Context, content string, image []byte, model string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" && len(image) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}

	c.sendMu.Lock()
	c.Cancel()

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	settings := c.settings
	if model == "" {
		model = settings.Model
	}
	prior := slices.Clone(c.messages)
	user := chat.NewUserMessage(content, image)
	c.messages = append(c.messages, user)
	c.live = ""
	c.generating = true
	c.lastErr = nil
	g := newGeneration(c, user, model, settings, c.groupID, cancel)
	c.cur = g
	c.mu.Unlock()
	c.sendMu.Unlock()

	logger.L.Debug("generation started", "group", g.groupID, "model", model)
	return g.run(gctx, prior)
}

// Cancel stops the running generation and waits until its partial response
// has been kept and persisted. It is a no-op when idle.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	g := c.cur
	c.mu.Unlock()
	if g == nil {
		return
	}
	g.cancelRequested.Store(true)
	g.cancel()
	<-g.done
}

// ClearMessages cancels any generation and empties the in-memory
// conversation. Stored turns are kept.
func (c *Coordinator) ClearMessages() {
	c.Cancel()
	c.mu.Lock()
	c.messages = nil
	c.live = ""
	c.lastErr = nil
	c.mu.Unlock()
}

// NewConversation clears the messages and starts a fresh group id.
func (c *Coordinator) NewConversation() string {
	c.ClearMessages()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupID = uuid.NewString()
	return c.groupID
}

// DeleteConversation removes every stored turn of the current group and
// clears the messages.
func (c *Coordinator) DeleteConversation(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return ErrBusy
	}
	if err := c.store.DeleteGroup(ctx, c.groupID); err != nil {
		return err
	}
	c.messages = nil
	c.live = ""
	c.lastErr = nil
	return nil
}
