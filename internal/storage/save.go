// Package storage writes post files to the local file system.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dictor/get621/internal/e621"
	"github.com/dictor/get621/internal/iqdb"
)

type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// FileName is the name a post is saved under. index is the 1-based position
// of the post in the pool and is ignored when poolID is 0.
func FileName(p *e621.Post, poolID, index int) string {
	if poolID > 0 {
		return fmt.Sprintf("%d-%d_%d.%s", poolID, index, p.ID, p.File.Ext)
	}
	return fmt.Sprintf("%d.%s", p.ID, p.File.Ext)
}

// Saver downloads posts into a Local store. One failing post never stops
// the others.
type Saver struct {
	Store      *Local
	Downloader Downloader
	Workers    int
	Log        logrus.FieldLogger
}

// Save writes every non-deleted post of posts, each file name once, and
// returns the failures in list order.
func (s *Saver) Save(ctx context.Context, posts []e621.Post, poolID int) []e621.ItemError {
	results := make([]*e621.ItemError, len(posts))
	var g errgroup.Group
	g.SetLimit(max(s.Workers, 1))

	saved := map[string]bool{}
	attempted := 0
	for i := range posts {
		i, p := i, &posts[i]
		if p.IsDeleted() {
			continue
		}
		if p.File != nil {
			// the same post can appear twice, e.g. as parent of two siblings
			name := FileName(p, poolID, i+1)
			if saved[name] {
				continue
			}
			saved[name] = true
		}
		attempted++
		g.Go(func() error {
			logError := func(err error) {
				s.Log.WithFields(logrus.Fields{
					"error": err,
					"id":    p.ID,
				}).Errorf("(%d/%d) error : save", i+1, len(posts))
				results[i] = &e621.ItemError{PostID: p.ID, Action: "save", Err: err}
			}
			if p.File == nil || p.File.URL == "" {
				logError(e621.MissingFileURLError(p.ID))
				return nil
			}
			name := FileName(p, poolID, i+1)
			n, err := saveFile(ctx, s.Store, s.Downloader, p.File.URL, name)
			if err != nil {
				logError(err)
				return nil
			}
			s.Log.WithField("bytes", n).Infof("(%d/%d) saved : %s", i+1, len(posts), name)
			return nil
		})
	}
	_ = g.Wait()

	failures := collect(results)
	s.Log.Infof("saved %d/%d posts", attempted-len(failures), attempted)
	return failures
}

// saveFile downloads fileURL to name, removing the file again on failure.
func saveFile(ctx context.Context, store *Local, dl Downloader, fileURL, name string) (int64, error) {
	f, err := store.Create(name)
	if err != nil {
		return 0, err
	}
	n, err := dl.Download(ctx, fileURL, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = e621.FileSystemError(closeErr)
	}
	if err != nil {
		store.Discard(name)
		return 0, err
	}
	return n, nil
}

// DirectDownloader saves similarity-search candidates straight from the url
// the service reported, without resolving their posts.
type DirectDownloader struct {
	Store      *Local
	Downloader Downloader
	Workers    int
	Log        logrus.FieldLogger
}

func (d *DirectDownloader) Download(ctx context.Context, candidates []iqdb.Candidate) []e621.ItemError {
	results := make([]*e621.ItemError, len(candidates))
	var g errgroup.Group
	g.SetLimit(max(d.Workers, 1))

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			name, err := d.download(ctx, c)
			if err != nil {
				d.Log.WithFields(logrus.Fields{
					"error": err,
					"id":    c.PostID,
				}).Errorf("(%d/%d) error : direct download", i+1, len(candidates))
				results[i] = &e621.ItemError{PostID: c.PostID, Action: "direct download", Err: err}
				return nil
			}
			d.Log.Infof("(%d/%d) saved : %s", i+1, len(candidates), name)
			return nil
		})
	}
	_ = g.Wait()

	return collect(results)
}

// download tries the candidate extensions in order and stops at the first one
// the server answers. Only http failures move on to the next extension.
func (d *DirectDownloader) download(ctx context.Context, c iqdb.Candidate) (string, error) {
	if c.FileURL == "" {
		return "", e621.MissingFileURLError(c.PostID)
	}
	exts := e621.KnownExtensions
	if c.FileExt != "" {
		exts = []e621.FileExt{c.FileExt}
	}

	var lastErr error
	for _, ext := range exts {
		fileURL, err := WithExt(c.FileURL, ext)
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("%d.%s", c.PostID, ext)
		d.Log.WithField("url", fileURL).Debugln("trying direct download")
		if _, err := saveFile(ctx, d.Store, d.Downloader, fileURL, name); err != nil {
			lastErr = err
			if errorKind(err) == e621.KindHTTP {
				continue
			}
			return "", err
		}
		return name, nil
	}
	return "", lastErr
}

// WithExt replaces the extension of the path of fileURL with ext.
func WithExt(fileURL string, ext e621.FileExt) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", e621.SerializationError(err)
	}
	u.Path = strings.TrimSuffix(u.Path, path.Ext(u.Path)) + "." + string(ext)
	return u.String(), nil
}

func errorKind(err error) e621.Kind {
	var e *e621.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func collect(results []*e621.ItemError) []e621.ItemError {
	return lo.FilterMap(results, func(e *e621.ItemError, _ int) (e621.ItemError, bool) {
		if e == nil {
			return e621.ItemError{}, false
		}
		return *e, true
	})
}
