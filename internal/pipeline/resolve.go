// Package pipeline turns a query into an ordered list of resolved posts and
// hands it to the output and save stages.
package pipeline

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/dictor/get621/internal/e621"
	"github.com/dictor/get621/internal/iqdb"
)

type (
	// Query is one of TagQuery, PoolQuery or ReverseQuery.
	Query interface {
		query()
	}

	TagQuery struct {
		Tags  []string
		Limit int
	}

	PoolQuery struct {
		ID int
	}

	// ReverseQuery looks up one local file by similarity.
	ReverseQuery struct {
		Path          string
		MinSimilarity float64
	}
)

func (TagQuery) query()     {}
func (PoolQuery) query()    {}
func (ReverseQuery) query() {}

// Strategy selects what happens to similarity-search candidates.
type Strategy int

const (
	// StrategyResolved fetches the post of every candidate.
	StrategyResolved Strategy = iota
	// StrategyDirect downloads candidate files from the reported urls only.
	StrategyDirect
)

type (
	API interface {
		PageSource
		PostFetcher
		PoolSource
	}

	Searcher interface {
		Search(ctx context.Context, path string, minSimilarity float64) ([]iqdb.Candidate, error)
	}
)

// Result is a materialized list. PoolID is set when the list came from a pool.
type Result struct {
	Posts  []e621.Post
	PoolID int
}

type Resolver struct {
	API     API
	Similar Searcher
	Workers int
	Log     logrus.FieldLogger
}

// Resolve materializes q and expands it by mode. Any error aborts the whole
// resolution and nothing is returned.
func (r *Resolver) Resolve(ctx context.Context, q Query, mode Mode) (*Result, error) {
	var (
		posts []e621.Post
		res   = &Result{}
		err   error
	)
	switch q := q.(type) {
	case TagQuery:
		posts, err = SearchTags(ctx, r.API, q.Tags, q.Limit)
	case PoolQuery:
		posts, err = PoolPosts(ctx, r.API, q.ID)
		res.PoolID = q.ID
	case ReverseQuery:
		posts, err = r.resolveSimilar(ctx, q)
	default:
		err = fmt.Errorf("unsupported query %T", q)
	}
	if err != nil {
		return nil, err
	}
	r.Log.WithFields(logrus.Fields{
		"count": len(posts),
		"mode":  mode,
	}).Debugln("query resolved")

	if res.Posts, err = Expand(ctx, r.API, mode, posts, r.Workers); err != nil {
		return nil, err
	}
	return res, nil
}

// Candidates runs the similarity search alone, for the direct strategy.
func (r *Resolver) Candidates(ctx context.Context, q ReverseQuery) ([]iqdb.Candidate, error) {
	return r.Similar.Search(ctx, q.Path, q.MinSimilarity)
}

// resolveSimilar fetches the post of every candidate. Candidates whose post
// cannot be fetched are skipped; cancellation aborts.
func (r *Resolver) resolveSimilar(ctx context.Context, q ReverseQuery) ([]e621.Post, error) {
	candidates, err := r.Candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(candidates, func(c iqdb.Candidate, _ int) int { return c.PostID })
	posts, err := fetchEach(ctx, r.API, ids, r.Workers, r.Log)
	if err != nil {
		return nil, err
	}
	return dropRepeats(posts), nil
}
