// Package iqdb submits local images to the similarity search of an
// e621-compatible site and returns the scored candidate posts.
package iqdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/dictor/get621/internal/e621"
)

const (
	queryPage  = "/iqdb_queries"
	tokenField = "csrf-token"
)

// Candidate is one scored match. FileExt is empty when unknown.
type Candidate struct {
	PostID  int
	FileExt e621.FileExt
	FileURL string
	Score   float64
}

// Decoder is one version of the similarity-search response contract.
type Decoder interface {
	// Path is where the query form is posted.
	Path() string
	Decode(body []byte) ([]Candidate, error)
}

type Options struct {
	BaseURL   string
	UserAgent string
	Interval  time.Duration
	Timeout   time.Duration
	Decoder   Decoder
	// Throttle, when set, is used instead of a limiter of its own.
	Throttle  resty.RequestMiddleware
}

type Client struct {
	http    *resty.Client
	decoder Decoder
	log     logrus.FieldLogger
}

func NewClient(opts Options, log logrus.FieldLogger) *Client {
	h := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("User-Agent", opts.UserAgent).
		SetTimeout(opts.Timeout).
		SetCookieJar(nil)
	throttle := opts.Throttle
	if throttle == nil {
		throttle = e621.Throttle(opts.Interval)
	}
	h.OnBeforeRequest(throttle)

	decoder := opts.Decoder
	if decoder == nil {
		decoder = JSONDecoder{}
	}
	return &Client{http: h, decoder: decoder, log: log}
}

// Search uploads the file at path and returns the candidates scoring at
// least minSimilarity, in the order the service returned them.
func (c *Client) Search(ctx context.Context, path string, minSimilarity float64) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, e621.FileSystemError(err)
	}
	defer f.Close()

	token, cookie, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", cookie).
		SetFormData(map[string]string{
			"authenticity_token": token,
			"url":                "",
		}).
		SetFileReader("file", filepath.Base(path), f).
		Post(c.decoder.Path())
	if err != nil {
		return nil, e621.TransportError(ctx, err)
	}
	e621.LogResponse(c.log, resp, "iqdbQuery")
	if !resp.IsSuccess() {
		return nil, e621.HTTPError(resp.StatusCode(), e621.ParseErrorResponse(resp))
	}

	candidates, err := c.decoder.Decode(resp.Body())
	if err != nil {
		return nil, err
	}
	kept := Keep(candidates, minSimilarity)
	c.log.WithFields(logrus.Fields{
		"path":  path,
		"found": len(candidates),
		"kept":  len(kept),
	}).Debugln("similarity search done")
	return kept, nil
}

// Keep drops candidates scoring below minSimilarity.
func Keep(candidates []Candidate, minSimilarity float64) []Candidate {
	return lo.Filter(candidates, func(c Candidate, _ int) bool {
		return c.Score >= minSimilarity
	})
}

// session fetches the query page to obtain the form token and the session
// cookie it is bound to.
func (c *Client) session(ctx context.Context) (string, string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(queryPage)
	if err != nil {
		return "", "", e621.TransportError(ctx, err)
	}
	e621.LogResponse(c.log, resp, "iqdbSession")
	if !resp.IsSuccess() {
		return "", "", e621.HTTPError(resp.StatusCode(), "")
	}

	cookies := lo.Map(resp.Cookies(), func(ck *http.Cookie, _ int) string {
		return ck.Name + "=" + ck.Value
	})
	if len(cookies) == 0 {
		return "", "", e621.AuthTokenNotFoundError(errors.New("no session cookie"))
	}

	doc, err := html.Parse(strings.NewReader(resp.String()))
	if err != nil {
		return "", "", e621.SerializationError(err)
	}
	token, ok := MetaContent(doc, tokenField)
	if !ok {
		return "", "", e621.AuthTokenNotFoundError(fmt.Errorf("no %s meta tag", tokenField))
	}
	return token, strings.Join(cookies, "; "), nil
}

// MetaContent returns the content of the first <meta name=name> element.
func MetaContent(doc *html.Node, name string) (string, bool) {
	content := ""
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "meta" || attr(n, "name") != name {
			return true
		}
		content = attr(n, "content")
		return false
	})
	return content, content != ""
}

// walk visits n depth-first until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if !walk(ch, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
