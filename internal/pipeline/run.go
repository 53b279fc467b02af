package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dictor/get621/internal/e621"
	"github.com/dictor/get621/internal/iqdb"
	"github.com/dictor/get621/internal/output"
)

// Job is everything one invocation asks for.
type Job struct {
	Query    Query
	Mode     Mode
	Output   output.Mode
	Save     bool
	Strategy Strategy
}

type (
	Saver interface {
		Save(ctx context.Context, posts []e621.Post, poolID int) []e621.ItemError
	}

	DirectSaver interface {
		Download(ctx context.Context, candidates []iqdb.Candidate) []e621.ItemError
	}
)

// Report sums up a finished job. Failures never make the job itself fail.
type Report struct {
	Posts    int
	Failures []e621.ItemError
}

type Runner struct {
	Resolver *Resolver
	Saver    Saver
	Direct   DirectSaver
	Sink     *output.Sink
	Log      logrus.FieldLogger
}

var ErrDirectConflict = errors.New("direct download cannot be combined with relationship expansion or structured output")

// Validate rejects combinations that have no meaning.
func (j Job) Validate() error {
	if j.Strategy != StrategyDirect {
		return nil
	}
	if _, ok := j.Query.(ReverseQuery); !ok {
		return errors.New("direct download only applies to similarity searches")
	}
	if j.Mode != ModeNone {
		return ErrDirectConflict
	}
	return nil
}

// Run resolves the job, then saves and renders the result. The returned
// error is only set for failures of the resolution or of the output itself.
func (r *Runner) Run(ctx context.Context, job Job) (*Report, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.Strategy == StrategyDirect {
		return r.runDirect(ctx, job.Query.(ReverseQuery))
	}

	res, err := r.Resolver.Resolve(ctx, job.Query, job.Mode)
	if err != nil {
		return nil, err
	}
	if q, ok := job.Query.(ReverseQuery); ok && job.Output == output.ModeVerbose {
		if _, err := fmt.Fprintf(r.Sink.W, "Looking for %s\n================================\n", q.Path); err != nil {
			return nil, fmt.Errorf("writing output: %w", err)
		}
	}

	report := &Report{Posts: len(res.Posts), Failures: []e621.ItemError{}}
	if job.Save {
		report.Failures = append(report.Failures, r.Saver.Save(ctx, res.Posts, res.PoolID)...)
	}

	failures, err := r.Sink.Render(ctx, res.Posts, job.Output)
	report.Failures = append(report.Failures, failures...)
	return report, err
}

func (r *Runner) runDirect(ctx context.Context, q ReverseQuery) (*Report, error) {
	candidates, err := r.Resolver.Candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		r.Log.WithField("path", q.Path).Infoln("no result")
		return &Report{Failures: []e621.ItemError{}}, nil
	}
	failures := r.Direct.Download(ctx, candidates)
	return &Report{Posts: len(candidates), Failures: failures}, nil
}
