package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/comigor/ollamachat/internal/chat"
	"github.com/comigor/ollamachat/internal/history"
	"github.com/comigor/ollamachat/internal/logger"
)

// LoadHistory expands the stored turns of groupID into messages, user then
// assistant per turn, oldest first. lastUsedModel is the engine of the newest
// turn. A group without turns yields no messages and no error.
func LoadHistory(ctx context.Context, store Store, groupID string) (messages []chat.Message, lastUsedModel *string, err error) {
	turns, err := store.TurnsForGroup(ctx, groupID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}

	messages = make([]chat.Message, 0, len(turns)*2)
	for _, t := range turns {
		created := t.Created()
		user := chat.Message{ID: uuid.New(), Content: t.Question, Role: chat.RoleUser, CreatedAt: created, TurnID: t.ID}
		if t.Image != nil {
			img, err := chat.DecodeImage(*t.Image)
			if err != nil {
				logger.L.Warn("ignoring undecodable stored image", "turn", t.ID, "error", err)
			} else {
				user.Image = img
			}
		}
		answer := chat.Message{ID: uuid.New(), Content: t.Answer, Role: chat.RoleAssistant, CreatedAt: created, TurnID: t.ID}
		messages = append(messages, user, answer)
	}
	if n := len(turns); n > 0 {
		engine := turns[n-1].Engine
		lastUsedModel = &engine
	}
	return messages, lastUsedModel, nil
}

// LoadHistory switches the coordinator to groupID and replaces its messages
// with the stored conversation.
func (c *Coordinator) LoadHistory(ctx context.Context, groupID string) (lastUsedModel *string, err error) {
	if c.IsGenerating() {
		return nil, ErrBusy
	}
	messages, last, err := LoadHistory(ctx, c.store, groupID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return nil, ErrBusy
	}
	c.groupID = groupID
	c.messages = messages
	c.live = ""
	c.lastErr = nil
	logger.L.Info("conversation loaded", "group", groupID, "messages", len(messages))
	return last, nil
}

// LastUsedModel returns the engine of the newest stored turn of the current
// conversation, or nil.
func (c *Coordinator) LastUsedModel(ctx context.Context) (*string, error) {
	turns, err := c.store.TurnsForGroup(ctx, c.ConversationID())
	if errors.Is(err, history.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	engine := turns[len(turns)-1].Engine
	return &engine, nil
}

// PairBounds returns the inclusive range of messages deleted together with
// index: a user message and the assistant reply after it, an assistant reply
// and the user message before it, or index alone.
func PairBounds(messages []chat.Message, index int) (lo, hi int) {
	switch {
	case messages[index].IsUser() && index+1 < len(messages) && !messages[index+1].IsUser():
		return index, index + 1
	case !messages[index].IsUser() && index > 0 && messages[index-1].IsUser():
		return index - 1, index
	}
	return index, index
}

// DeleteMessage removes the message at index together with its pair, from
// the store first and then from memory. Stored turns are identified by the
// messages' TurnID; a turn the store no longer has is reported as
// ErrIndexOutOfRange and nothing is removed.
func (c *Coordinator) DeleteMessage(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generating {
		return ErrBusy
	}
	if index < 0 || index >= len(c.messages) {
		return fmt.Errorf("%w: message %d of %d", ErrIndexOutOfRange, index, len(c.messages))
	}

	lo, hi := PairBounds(c.messages, index)
	var ids []int64
	for _, m := range c.messages[lo : hi+1] {
		if m.TurnID != 0 && (len(ids) == 0 || ids[len(ids)-1] != m.TurnID) {
			ids = append(ids, m.TurnID)
		}
	}

	if len(ids) > 0 {
		turns, err := c.store.TurnsForGroup(ctx, c.groupID)
		if err != nil && !errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("delete message: %w", err)
		}
		stored := make(map[int64]bool, len(turns))
		for _, t := range turns {
			stored[t.ID] = true
		}
		for _, id := range ids {
			if !stored[id] {
				return fmt.Errorf("%w: turn %d is not stored in group %s", ErrIndexOutOfRange, id, c.groupID)
			}
		}
		for _, id := range ids {
			if err := c.store.DeleteTurnByID(ctx, c.groupID, id); err != nil {
				return fmt.Errorf("delete turn %d: %w", id, err)
			}
		}
	}

	c.messages = append(c.messages[:lo], c.messages[hi+1:]...)
	logger.L.Debug("messages deleted", "group", c.groupID, "from", lo, "to", hi, "turns", len(ids))
	return nil
}
