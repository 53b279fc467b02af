package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dictor/get621/internal/e621"
	"github.com/dictor/get621/internal/iqdb"
)

type mockAPI struct {
	SearchPageFunc func(ctx context.Context, tags []string, limit, before int) ([]e621.Post, error)
	GetPostFunc    func(ctx context.Context, id int) (e621.Post, error)
	GetPoolFunc    func(ctx context.Context, id int) (*e621.Pool, error)
	GetPostsFunc   func(ctx context.Context, ids []int) ([]e621.Post, error)

	mu       sync.Mutex
	requests int
}

func (m *mockAPI) count() {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
}

func (m *mockAPI) SearchPage(ctx context.Context, tags []string, limit, before int) ([]e621.Post, error) {
	m.count()
	return m.SearchPageFunc(ctx, tags, limit, before)
}

func (m *mockAPI) GetPost(ctx context.Context, id int) (e621.Post, error) {
	m.count()
	return m.GetPostFunc(ctx, id)
}

func (m *mockAPI) GetPool(ctx context.Context, id int) (*e621.Pool, error) {
	m.count()
	return m.GetPoolFunc(ctx, id)
}

func (m *mockAPI) GetPosts(ctx context.Context, ids []int) ([]e621.Post, error) {
	m.count()
	return m.GetPostsFunc(ctx, ids)
}

type mockSearcher struct {
	SearchFunc func(ctx context.Context, path string, minSimilarity float64) ([]iqdb.Candidate, error)
}

func (m *mockSearcher) Search(ctx context.Context, path string, minSimilarity float64) ([]iqdb.Candidate, error) {
	return m.SearchFunc(ctx, path, minSimilarity)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func mkPost(id int) e621.Post {
	return e621.Post{
		ID:   id,
		File: &e621.File{URL: fmt.Sprintf("https://static/%d.png", id), Ext: e621.ExtPNG},
		Raw:  json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
	}
}

func withParent(p e621.Post, parent int) e621.Post {
	p.ParentID = &parent
	return p
}

func withChildren(p e621.Post, children ...int) e621.Post {
	p.Children = children
	return p
}

// board serves a fixed set of posts the way the api does: newest first,
// narrowed by the before cursor.
type board struct {
	posts map[int]e621.Post
}

func newBoard(posts ...e621.Post) *board {
	b := &board{posts: map[int]e621.Post{}}
	for _, p := range posts {
		b.posts[p.ID] = p
	}
	return b
}

func (b *board) searchPage(_ context.Context, _ []string, limit, before int) ([]e621.Post, error) {
	ids := []int{}
	for id := range b.posts {
		if before == 0 || id < before {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	if len(ids) > limit {
		ids = ids[:limit]
	}
	page := []e621.Post{}
	for _, id := range ids {
		page = append(page, b.posts[id])
	}
	return page, nil
}

func (b *board) getPost(_ context.Context, id int) (e621.Post, error) {
	p, ok := b.posts[id]
	if !ok {
		return e621.Post{}, e621.HTTPError(404, "not found")
	}
	return p, nil
}

func (b *board) api() *mockAPI {
	return &mockAPI{
		SearchPageFunc: b.searchPage,
		GetPostFunc:    b.getPost,
		GetPostsFunc: func(ctx context.Context, ids []int) ([]e621.Post, error) {
			out := []e621.Post{}
			for _, id := range ids {
				if p, ok := b.posts[id]; ok {
					out = append(out, p)
				}
			}
			return out, nil
		},
	}
}

func ids(posts []e621.Post) []int {
	out := []int{}
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
