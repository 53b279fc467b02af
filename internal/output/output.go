// Package output renders a resolved list of posts to the terminal.
package output

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dictor/get621/internal/e621"
)

type Mode int

const (
	// ModeID prints one id per line.
	ModeID Mode = iota
	// ModeJSON prints the records as a json array, as the api sent them.
	ModeJSON
	// ModeVerbose prints a readable block per post.
	ModeVerbose
	// ModeRaw streams the files themselves.
	ModeRaw
)

const (
	divider = "\n----------------\n"
	noPosts = "No post found."
)

var modeNames = map[string]Mode{
	"id":      ModeID,
	"json":    ModeJSON,
	"verbose": ModeVerbose,
	"raw":     ModeRaw,
}

func ParseMode(s string) (Mode, error) {
	m, ok := modeNames[s]
	if !ok {
		return 0, fmt.Errorf("invalid output mode %q, expected one of: id, json, raw, verbose", s)
	}
	return m, nil
}

type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Sink writes resolved posts to W.
type Sink struct {
	W          io.Writer
	Downloader Downloader
	Log        logrus.FieldLogger
}

// Render writes posts in the given mode. The returned error is fatal: the
// output itself could not be produced. Failures of single files in raw mode
// are logged and returned as item errors instead.
func (s *Sink) Render(ctx context.Context, posts []e621.Post, mode Mode) ([]e621.ItemError, error) {
	switch mode {
	case ModeRaw:
		return s.stream(ctx, posts)
	}

	w := bufio.NewWriter(s.W)
	var err error
	switch mode {
	case ModeID:
		err = writeIDs(w, posts)
	case ModeJSON:
		err = writeJSON(w, posts)
	case ModeVerbose:
		err = writeVerbose(w, posts)
	default:
		return nil, fmt.Errorf("unknown output mode %d", mode)
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		return nil, fmt.Errorf("writing output: %w", err)
	}
	return nil, nil
}

func writeIDs(w io.Writer, posts []e621.Post) error {
	for _, p := range posts {
		if _, err := fmt.Fprintln(w, p.ID); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, posts []e621.Post) error {
	if posts == nil {
		posts = []e621.Post{}
	}
	data, err := json.Marshal(posts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeVerbose(w io.Writer, posts []e621.Post) error {
	if len(posts) == 0 {
		_, err := fmt.Fprintln(w, noPosts)
		return err
	}
	blocks := make([]string, len(posts))
	for i := range posts {
		blocks[i] = Describe(&posts[i])
	}
	_, err := fmt.Fprintln(w, strings.Join(blocks, divider))
	return err
}

// stream concatenates the files of every downloadable post into W.
func (s *Sink) stream(ctx context.Context, posts []e621.Post) ([]e621.ItemError, error) {
	failures := []e621.ItemError{}
	for i := range posts {
		p := &posts[i]
		if !p.Downloadable() {
			continue
		}
		if _, err := s.Downloader.Download(ctx, p.File.URL, s.W); err != nil {
			if errors.Is(err, e621.ErrFileSystem) || ctx.Err() != nil {
				return failures, fmt.Errorf("streaming post #%d: %w", p.ID, err)
			}
			s.Log.WithFields(logrus.Fields{
				"id":    p.ID,
				"error": err,
			}).Errorf("(%d/%d) error : stream", i+1, len(posts))
			failures = append(failures, e621.ItemError{PostID: p.ID, Action: "stream", Err: err})
		}
	}
	return failures, nil
}

// Describe renders p as a multi-line block without trailing newline.
func Describe(p *e621.Post) string {
	var sb strings.Builder
	if p.IsDeleted() {
		reason := p.DeleteReason
		if reason == "" {
			reason = "no reason given"
		}
		fmt.Fprintf(&sb, "#%d (deleted: %s)\n", p.ID, reason)
	} else if artists := joinNames(p.Tags.Artist); artists != "" {
		fmt.Fprintf(&sb, "#%d by %s\n", p.ID, artists)
	} else {
		fmt.Fprintf(&sb, "#%d\n", p.ID)
	}

	fmt.Fprintf(&sb, "Rating: %s\n", p.Rating)
	fmt.Fprintf(&sb, "Score: %d (+%d / -%d)\n", p.Score.Total, p.Score.Up, abs(p.Score.Down))
	fmt.Fprintf(&sb, "Favs: %d\n", p.FavCount)
	if p.File != nil && p.File.Ext != "" {
		fmt.Fprintf(&sb, "Type: %s\n", p.File.Ext)
	}
	fmt.Fprintf(&sb, "Created at: %s\n", p.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	sb.WriteString("Tags:")
	groups := p.Tags.Groups()
	if len(groups) == 0 {
		sb.WriteString(" none")
	}
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n  %s: %s", g.Category, strings.Join(g.Tags, ", "))
	}
	fmt.Fprintf(&sb, "\nDescription: %s", p.Description)
	return sb.String()
}

// joinNames gives "a", "a and b", "a, b and c".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
