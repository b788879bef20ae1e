package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/comigor/ollamachat/internal/logger"
)

const (
	questionPreviewLen = 30
	answerPreviewLen   = 50
	untitled           = "Conversation"
)

// Summary is the list-view projection of a conversation group.
type Summary struct {
	GroupID       string
	LastActivity  time.Time
	BaseURL       *string
	FirstQuestion string
	FirstAnswer   string
	Engine        string
	Image         *string
}

// Summaries returns one summary per group, most recently active first.
// Groups whose timestamp cannot be parsed are skipped.
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	groups, err := s.AllGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(groups))
	for _, g := range groups {
		last, err := parseTimestamp(g.LastCreated)
		if err != nil {
			logger.L.Warn("skipping group with malformed timestamp", "group", g.GroupID, "created", g.LastCreated)
			continue
		}
		sum := Summary{GroupID: g.GroupID, LastActivity: last, BaseURL: g.BaseURL, FirstQuestion: untitled}
		turns, err := s.TurnsForGroup(ctx, g.GroupID)
		if err != nil {
			logger.L.Warn("failed to load first turn", "group", g.GroupID, "error", err)
		} else {
			first := turns[0]
			sum.FirstQuestion = truncate(first.Question, questionPreviewLen)
			sum.FirstAnswer = truncate(first.Answer, answerPreviewLen)
			sum.Engine = first.Engine
			sum.Image = first.Image
		}
		out = append(out, sum)
	}
	return out, nil
}

// Search returns the summaries whose previews or any stored question/answer
// contain query, case-insensitively. An empty query returns everything.
func (s *Store) Search(ctx context.Context, query string) ([]Summary, error) {
	all, err := s.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}
	needle := strings.ToLower(query)
	var out []Summary
	for _, sum := range all {
		if containsFold(sum.FirstQuestion, needle) || containsFold(sum.FirstAnswer, needle) {
			out = append(out, sum)
			continue
		}
		turns, err := s.TurnsForGroup(ctx, sum.GroupID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.L.Debug("search skipped group", "group", sum.GroupID, "error", err)
			}
			continue
		}
		for _, t := range turns {
			if containsFold(t.Question, needle) || containsFold(t.Answer, needle) {
				out = append(out, sum)
				break
			}
		}
	}
	return out, nil
}

func containsFold(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
