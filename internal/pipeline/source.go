package pipeline

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/dictor/get621/internal/e621"
)

const (
	orderPrefix  = "order:"
	poolPageSize = 100
)

type (
	PageSource interface {
		SearchPage(ctx context.Context, tags []string, limit, before int) ([]e621.Post, error)
	}

	PostFetcher interface {
		GetPost(ctx context.Context, id int) (e621.Post, error)
	}

	PoolSource interface {
		GetPool(ctx context.Context, id int) (*e621.Pool, error)
		GetPosts(ctx context.Context, ids []int) ([]e621.Post, error)
	}
)

// Cursor is the exclusive "before id" bound of the next search page.
// The zero value starts from the newest post.
type Cursor struct {
	Before int
}

// Next returns the cursor following page. ok is false when page cannot move
// the cursor further down, which ends the pagination.
func (c Cursor) Next(page []e621.Post) (next Cursor, ok bool) {
	lowest := c.Before
	for _, p := range page {
		if lowest == 0 || p.ID < lowest {
			lowest = p.ID
		}
	}
	if lowest == c.Before {
		return c, false
	}
	return Cursor{Before: lowest}, true
}

// Admits reports whether id lies below the cursor.
func (c Cursor) Admits(id int) bool {
	return c.Before == 0 || id < c.Before
}

// IsOrdered reports whether the search asks for an explicit ordering, which
// the api cannot paginate.
func IsOrdered(tags []string) bool {
	return lo.ContainsBy(tags, func(t string) bool {
		return strings.HasPrefix(strings.ToLower(t), orderPrefix)
	})
}

// SearchTags returns up to limit posts matching tags, newest first unless an
// order: tag is given.
func SearchTags(ctx context.Context, src PageSource, tags []string, limit int) ([]e621.Post, error) {
	if limit <= 0 {
		return []e621.Post{}, nil
	}
	if IsOrdered(tags) {
		if limit > e621.ListHardLimit {
			return nil, e621.AboveLimitError(limit, e621.ListHardLimit)
		}
		page, err := src.SearchPage(ctx, tags, limit, 0)
		if err != nil {
			return nil, err
		}
		page = dropRepeats(page)
		return page[:min(len(page), limit)], nil
	}

	posts := []e621.Post{}
	cursor := Cursor{}
	for len(posts) < limit {
		page, next, err := searchPage(ctx, src, tags, min(limit-len(posts), e621.ListHardLimit), cursor)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		posts = append(posts, page[:min(len(page), limit-len(posts))]...)
		if next == cursor {
			break
		}
		cursor = next
	}
	return posts, nil
}

// searchPage requests the page below cursor and returns it with the cursor of
// the following page. Posts the api returns at or above the cursor are dropped
// so no id is ever emitted twice.
func searchPage(ctx context.Context, src PageSource, tags []string, limit int, cursor Cursor) ([]e621.Post, Cursor, error) {
	page, err := src.SearchPage(ctx, tags, limit, cursor.Before)
	if err != nil {
		return nil, cursor, err
	}
	page = dropRepeats(lo.Filter(page, func(p e621.Post, _ int) bool {
		return cursor.Admits(p.ID)
	}))
	next, ok := cursor.Next(page)
	if !ok {
		return page, cursor, nil
	}
	return page, next, nil
}

// PoolPosts returns the members of a pool in pool order, one batch at a time.
func PoolPosts(ctx context.Context, src PoolSource, poolID int) ([]e621.Post, error) {
	pool, err := src.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	posts := []e621.Post{}
	for _, ids := range lo.Chunk(pool.PostIDs, poolPageSize) {
		page, err := src.GetPosts(ctx, ids)
		if err != nil {
			return nil, err
		}
		posts = append(posts, page...)
	}
	return dropRepeats(posts), nil
}

// dropRepeats removes a post identical in id to the one right before it.
func dropRepeats(posts []e621.Post) []e621.Post {
	out := make([]e621.Post, 0, len(posts))
	for i, p := range posts {
		if i > 0 && posts[i-1].ID == p.ID {
			continue
		}
		out = append(out, p)
	}
	return out
}
