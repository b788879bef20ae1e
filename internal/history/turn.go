package history

import "time"

// Turn is one persisted question/answer pair of a conversation group.
type Turn struct {
	ID          int64   `json:"id"`
	GroupID     string  `json:"group_id"`
	Instruction *string `json:"instruction,omitempty"`
	Question    string  `json:"question"`
	Answer      string  `json:"answer"`
	Image       *string `json:"image,omitempty"` // base64
	CreatedAt   string  `json:"created_at"`      // TimestampLayout, UTC
	Engine      string  `json:"engine"`
	BaseURL     *string `json:"base_url,omitempty"`
}

// Created parses CreatedAt. The zero time is returned for malformed values.
func (t Turn) Created() time.Time {
	ts, err := parseTimestamp(t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// NewTurn carries the values of a turn about to be inserted.
type NewTurn struct {
	GroupID     string
	Instruction *string
	Question    string
	Answer      string
	Image       *string
	Engine      string
	BaseURL     *string
}

// Group summarizes one conversation group.
type Group struct {
	GroupID     string
	LastCreated string
	BaseURL     *string
}

// TimestampLayout is a fixed-width RFC 3339 layout; values sort
// lexicographically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
