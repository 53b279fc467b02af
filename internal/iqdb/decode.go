package iqdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/dictor/get621/internal/e621"
)

// JSONDecoder reads the json api of the query endpoint: an array of
// {"score", "post_id", "post": {"posts": {...}}} records.
type JSONDecoder struct{}

type jsonCandidate struct {
	Score  *float64 `json:"score"`
	PostID int      `json:"post_id"`
	Post   struct {
		Posts struct {
			ID      int    `json:"id"`
			FileExt string `json:"file_ext"`
			FileURL string `json:"file_url"`
		} `json:"posts"`
	} `json:"post"`
}

func (JSONDecoder) Path() string {
	return queryPage + ".json"
}

func (JSONDecoder) Decode(body []byte) ([]Candidate, error) {
	raw := []jsonCandidate{}
	if err := json.Unmarshal(body, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, e621.IqdbQueryError(err)
		}
		return nil, e621.SerializationError(err)
	}

	candidates := make([]Candidate, 0, len(raw))
	for i, r := range raw {
		if r.Score == nil {
			return nil, e621.IqdbQueryError(fmt.Errorf("candidate %d has no score", i))
		}
		id := r.Post.Posts.ID
		if id == 0 {
			id = r.PostID
		}
		if id <= 0 {
			return nil, e621.IqdbQueryError(fmt.Errorf("candidate %d has no post id", i))
		}
		candidates = append(candidates, Candidate{
			PostID:  id,
			FileExt: knownExt(r.Post.Posts.FileExt),
			FileURL: r.Post.Posts.FileURL,
			Score:   *r.Score,
		})
	}
	return candidates, nil
}

// HTMLDecoder scrapes the result page served to browsers, where each match
// is a .post-preview element carrying data-id, data-file-ext and
// data-file-url and a "Similarity: NN" caption.
type HTMLDecoder struct{}

var similarityPattern = regexp.MustCompile(`Similarity:?\s*(\d+(?:\.\d+)?)`)

func (HTMLDecoder) Path() string {
	return queryPage
}

func (HTMLDecoder) Decode(body []byte) ([]Candidate, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, e621.SerializationError(err)
	}

	var (
		candidates = []Candidate{}
		decodeErr  error
	)
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !hasClass(n, "post-preview") {
			return true
		}
		id, err := strconv.Atoi(attr(n, "data-id"))
		if err != nil {
			// not a post result
			return true
		}
		m := similarityPattern.FindStringSubmatch(text(n))
		if m == nil {
			decodeErr = e621.IqdbQueryError(fmt.Errorf("post #%d has no similarity", id))
			return false
		}
		score, _ := strconv.ParseFloat(m[1], 64)
		candidates = append(candidates, Candidate{
			PostID:  id,
			FileExt: knownExt(attr(n, "data-file-ext")),
			FileURL: attr(n, "data-file-url"),
			Score:   score,
		})
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return candidates, nil
}

func knownExt(s string) e621.FileExt {
	if ext, ok := e621.ParseFileExt(s); ok {
		return ext
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
		return true
	})
	return sb.String()
}
