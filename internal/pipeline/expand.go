package pipeline

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dictor/get621/internal/e621"
)

// Mode selects what replaces each result before output.
type Mode int

const (
	ModeNone Mode = iota
	ModeParents
	ModeChildren
)

func (m Mode) String() string {
	switch m {
	case ModeParents:
		return "parents"
	case ModeChildren:
		return "children"
	default:
		return "none"
	}
}

// Related returns the ids that replace p under mode, in order.
func Related(p e621.Post, mode Mode) []int {
	switch mode {
	case ModeParents:
		if p.ParentID == nil {
			return nil
		}
		return []int{*p.ParentID}
	case ModeChildren:
		return p.Children
	default:
		return []int{p.ID}
	}
}

// Expand replaces every post by its related posts. Any failed fetch aborts
// the whole expansion.
func Expand(ctx context.Context, fetcher PostFetcher, mode Mode, posts []e621.Post, workers int) ([]e621.Post, error) {
	if mode == ModeNone {
		return posts, nil
	}
	ids := lo.FlatMap(posts, func(p e621.Post, _ int) []int {
		return Related(p, mode)
	})
	return fetchAll(ctx, fetcher, ids, workers)
}

// fetchAll fetches ids concurrently and returns the posts in ids order.
func fetchAll(ctx context.Context, fetcher PostFetcher, ids []int, workers int) ([]e621.Post, error) {
	out := make([]e621.Post, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := fetcher.GetPost(gctx, id)
			if err != nil {
				return fmt.Errorf("fetching related post #%d: %w", id, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchEach fetches ids concurrently, logging and skipping the ids that fail
// to resolve. Order follows ids. Cancellation of ctx is not an item failure
// and aborts the whole fetch.
func fetchEach(ctx context.Context, fetcher PostFetcher, ids []int, workers int, log logrus.FieldLogger) ([]e621.Post, error) {
	results := make([]*e621.Post, len(ids))
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := fetcher.GetPost(ctx, id)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.WithFields(logrus.Fields{
					"id":    id,
					"error": err,
				}).Warnln("skipping post that failed to resolve")
				return nil
			}
			results[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	posts := make([]e621.Post, 0, len(ids))
	for _, p := range results {
		if p != nil {
			posts = append(posts, *p)
		}
	}
	return posts, nil
}
