package session

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/comigor/ollamachat/internal/logger"
)

// ErrNoModels is returned when the server answered with an empty model list.
var ErrNoModels = errors.New("session: server offers no models")

// ChooseModel fetches the available models and the conversation's last used
// model concurrently, then picks: the last used model when resuming a
// conversation, else preferred, else the first model offered. A failed fetch
// is returned as is; an empty list is ErrNoModels.
func ChooseModel(ctx context.Context, c *Coordinator, preferred string, resume bool) (string, []string, error) {
	var (
		models []string
		last   *string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		models, err = c.ListModels(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		last, err = c.LastUsedModel(gctx)
		if err != nil {
			// The last model is a hint only.
			logger.L.Warn("last used model unavailable", "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	if len(models) == 0 {
		return "", models, ErrNoModels
	}
	if resume && last != nil && slices.Contains(models, *last) {
		return *last, models, nil
	}
	if slices.Contains(models, preferred) {
		return preferred, models, nil
	}
	return models[0], models, nil
}
